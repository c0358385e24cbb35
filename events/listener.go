// Package events watches registered channels for incoming raids and
// records each one as a pending shoutout.
package events

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	twitchirc "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/raid-herald/db"
	"github.com/onnwee/raid-herald/telemetry"
)

// raidEvent is the normalized payload of a raid notice.
type raidEvent struct {
	fromID   string
	fromName string
	toLogin  string
	viewers  int
}

// raidFromNotice extracts a raid from a chat user notice. The raider's
// display name wins over the login when present.
func raidFromNotice(m twitchirc.UserNoticeMessage) (raidEvent, bool) {
	if m.MsgID != "raid" {
		return raidEvent{}, false
	}
	ev := raidEvent{
		fromID:   m.User.ID,
		fromName: m.User.DisplayName,
		toLogin:  strings.ToLower(m.Channel),
	}
	if ev.fromName == "" {
		ev.fromName = m.User.Name
	}
	if name := m.MsgParams["msg-param-displayName"]; name != "" {
		ev.fromName = name
	}
	if v := m.MsgParams["msg-param-viewerCount"]; v != "" {
		ev.viewers, _ = strconv.Atoi(v)
	}
	if ev.fromID == "" || ev.toLogin == "" {
		return raidEvent{}, false
	}
	return ev, true
}

// Listener maintains an anonymous chat connection joined to every
// registered channel. Raid notices observed there are written to the
// pending table; the outbox sweep does the sending.
type Listener struct {
	DB          *sql.DB
	ClockOffset time.Duration

	client *twitchirc.Client
}

func NewListener(dbx *sql.DB, clockOffset time.Duration) *Listener {
	l := &Listener{
		DB:          dbx,
		ClockOffset: clockOffset,
		client:      twitchirc.NewAnonymousClient(),
	}
	l.client.OnUserNoticeMessage(l.handleNotice)
	return l
}

// Subscribe starts watching a channel. Safe to call before or after Start;
// the client replays joins on (re)connect.
func (l *Listener) Subscribe(login string) {
	l.client.Join(strings.ToLower(login))
}

// Unsubscribe stops watching a channel.
func (l *Listener) Unsubscribe(login string) {
	l.client.Depart(strings.ToLower(login))
}

// Start connects to chat and blocks until ctx is cancelled or the
// connection fails terminally. The client reconnects on transient drops.
func (l *Listener) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.client.Disconnect()
	}()
	err := l.client.Connect()
	if errors.Is(err, twitchirc.ErrClientDisconnected) || ctx.Err() != nil {
		return nil
	}
	return err
}

func (l *Listener) handleNotice(m twitchirc.UserNoticeMessage) {
	ev, ok := raidFromNotice(m)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cred, err := db.GetCredentialByLogin(ctx, l.DB, ev.toLogin)
	if err != nil {
		slog.Error("raid lookup failed", slog.String("channel", ev.toLogin), slog.Any("err", err))
		return
	}
	if cred == nil || !cred.IsActive {
		slog.Debug("raid for unregistered channel dropped", slog.String("channel", ev.toLogin))
		return
	}

	r := &db.Raid{
		FromID:     ev.fromID,
		FromName:   ev.fromName,
		ToID:       cred.UserID,
		ToName:     cred.UserName,
		ObservedAt: time.Now().UTC().Add(l.ClockOffset),
	}
	if err := db.InsertRaid(ctx, l.DB, r); err != nil {
		slog.Error("raid insert failed",
			slog.String("from", ev.fromName),
			slog.String("to", cred.UserName),
			slog.Any("err", err))
		return
	}
	telemetry.RaidsObserved.Inc()
	slog.Info("raid observed",
		slog.Int64("raid_id", r.ID),
		slog.String("from", ev.fromName),
		slog.String("to", cred.UserName),
		slog.Int("viewers", ev.viewers))
}
