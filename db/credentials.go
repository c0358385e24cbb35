package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/onnwee/raid-herald/crypto"
)

// Credential is one platform user's stored OAuth state plus activation flag.
// Rows are never hard-deleted; unregistration clears IsActive.
type Credential struct {
	UserID       string
	UserName     string
	RegisterID   string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
	IsActive     bool
}

// encryptTokens returns the storable token values plus encryption metadata.
func encryptTokens(access, refresh string) (string, string, int, string, error) {
	enc, err := getEncryptor()
	if err != nil {
		return "", "", 0, "", fmt.Errorf("get encryptor: %w", err)
	}
	if enc == nil {
		return access, refresh, 0, "", nil
	}
	encAccess, err := crypto.EncryptString(enc, access)
	if err != nil {
		return "", "", 0, "", fmt.Errorf("encrypt access token: %w", err)
	}
	encRefresh, err := crypto.EncryptString(enc, refresh)
	if err != nil {
		return "", "", 0, "", fmt.Errorf("encrypt refresh token: %w", err)
	}
	return encAccess, encRefresh, 1, "default", nil
}

func decryptTokens(access, refresh string, encVersion int) (string, string, error) {
	if encVersion != 1 {
		return access, refresh, nil
	}
	enc, err := getEncryptor()
	if err != nil {
		return "", "", fmt.Errorf("get encryptor for decryption: %w", err)
	}
	if enc == nil {
		return "", "", fmt.Errorf("token is encrypted but ENCRYPTION_KEY not configured")
	}
	decAccess, err := crypto.DecryptString(enc, access)
	if err != nil {
		return "", "", fmt.Errorf("decrypt access token: %w", err)
	}
	decRefresh, err := crypto.DecryptString(enc, refresh)
	if err != nil {
		return "", "", fmt.Errorf("decrypt refresh token: %w", err)
	}
	return decAccess, decRefresh, nil
}

// UpsertCredential inserts or updates the row keyed by user id. With
// reRegister=true the existing register_id is preserved and the activation
// flag left untouched; otherwise the given RegisterID replaces it and the
// row is forced active. Single-statement upsert; concurrent writers for the
// same user race on last-write-wins.
func UpsertCredential(ctx context.Context, dbx *sql.DB, c *Credential, reRegister bool) error {
	access, refresh, encVersion, encKeyID, err := encryptTokens(c.AccessToken, c.RefreshToken)
	if err != nil {
		return err
	}

	q := `INSERT INTO credentials(user_id, user_name, register_id, access_token, refresh_token, expires_at, scope, is_active, encryption_version, encryption_key_id, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,$7,TRUE,$8,$9,NOW())
		  ON CONFLICT(user_id) DO UPDATE SET
		    user_name=EXCLUDED.user_name,
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    encryption_version=EXCLUDED.encryption_version,
		    encryption_key_id=EXCLUDED.encryption_key_id,
		    updated_at=NOW()`
	if !reRegister {
		q += `,
		    register_id=EXCLUDED.register_id,
		    is_active=TRUE`
	}
	_, err = dbx.ExecContext(ctx, q, c.UserID, c.UserName, c.RegisterID, access, refresh, c.ExpiresAt, c.Scope, encVersion, encKeyID)
	return err
}

// UpdateCredentialTokens persists rotated token values for a user. Used by
// the refresher callback; last-write-wins.
func UpdateCredentialTokens(ctx context.Context, dbx *sql.DB, userID, accessToken, refreshToken string, expiry time.Time) error {
	access, refresh, encVersion, encKeyID, err := encryptTokens(accessToken, refreshToken)
	if err != nil {
		return err
	}
	_, err = dbx.ExecContext(ctx, `UPDATE credentials SET access_token=$1, refresh_token=$2, expires_at=$3, encryption_version=$4, encryption_key_id=$5, updated_at=NOW() WHERE user_id=$6`,
		access, refresh, expiry, encVersion, encKeyID, userID)
	return err
}

// DeactivateCredential clears the activation flag. Repeating the call is safe.
func DeactivateCredential(ctx context.Context, dbx *sql.DB, userID string) error {
	_, err := dbx.ExecContext(ctx, `UPDATE credentials SET is_active=FALSE, updated_at=NOW() WHERE user_id=$1`, userID)
	return err
}

const credentialColumns = `user_id, user_name, register_id, access_token, refresh_token, expires_at, scope, is_active, COALESCE(encryption_version, 0)`

func scanCredential(row *sql.Row) (*Credential, error) {
	var c Credential
	var access, refresh sql.NullString
	var expiresAt sql.NullTime
	var scope sql.NullString
	var encVersion int
	err := row.Scan(&c.UserID, &c.UserName, &c.RegisterID, &access, &refresh, &expiresAt, &scope, &c.IsActive, &encVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.ExpiresAt = expiresAt.Time
	c.Scope = scope.String
	c.AccessToken, c.RefreshToken, err = decryptTokens(access.String, refresh.String, encVersion)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCredentialByRegisterID looks a credential up by its registration
// identifier. Returns (nil, nil) when no row matches.
func GetCredentialByRegisterID(ctx context.Context, dbx *sql.DB, registerID string) (*Credential, error) {
	row := dbx.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE register_id=$1`, registerID)
	return scanCredential(row)
}

// GetCredentialByUserID looks a credential up by platform user id.
// Returns (nil, nil) when no row matches.
func GetCredentialByUserID(ctx context.Context, dbx *sql.DB, userID string) (*Credential, error) {
	row := dbx.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE user_id=$1`, userID)
	return scanCredential(row)
}

// GetCredentialByLogin looks a credential up by login name. Raid intake uses
// this to map a channel back to its owner. Returns (nil, nil) when no row
// matches.
func GetCredentialByLogin(ctx context.Context, dbx *sql.DB, login string) (*Credential, error) {
	row := dbx.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE user_name=$1`, login)
	return scanCredential(row)
}

// ListActiveCredentials returns every credential with the activation flag set.
func ListActiveCredentials(ctx context.Context, dbx *sql.DB) ([]Credential, error) {
	rows, err := dbx.QueryContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE is_active=TRUE ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var c Credential
		var access, refresh sql.NullString
		var expiresAt sql.NullTime
		var scope sql.NullString
		var encVersion int
		if err := rows.Scan(&c.UserID, &c.UserName, &c.RegisterID, &access, &refresh, &expiresAt, &scope, &c.IsActive, &encVersion); err != nil {
			return nil, err
		}
		c.ExpiresAt = expiresAt.Time
		c.Scope = scope.String
		if c.AccessToken, c.RefreshToken, err = decryptTokens(access.String, refresh.String, encVersion); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
