// Command moqsession-server is a minimal MoQ-over-WebTransport endpoint:
// it terminates the HTTP/3 upgrade, runs one session.Session per connection,
// and logs the control-plane events an application would otherwise wire up
// to real track storage. It exists to exercise transport/quicwt and certs
// end to end, not as a media server.
package main

import (
	"context"
	"crypto/tls"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zsiec/moqsession/certs"
	"github.com/zsiec/moqsession/session"
	"github.com/zsiec/moqsession/transport/quicwt"
	"github.com/zsiec/moqsession/wire"
)

var version = "dev"

// noSuchTrackErrorCode mirrors the "Track Does Not Exist" SUBSCRIBE_ERROR
// and FETCH_ERROR code from the MoQ Transport draft this wire codec
// targets.
const noSuchTrackErrorCode = 0x4

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate(14 * 24 * time.Hour)
	if err != nil {
		slog.Error("failed to generate cert", "error", err)
		os.Exit(1)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	addr := envOr("MOQ_ADDR", ":4443")
	path := envOr("MOQ_PATH", "/moq")

	slog.Info("moqsession-server starting",
		"version", version,
		"addr", addr,
		"path", path,
		"cert_hash", cert.FingerprintBase64(),
	)

	upgrader := quicwt.NewServerUpgrader(quicwt.ServerConfig{
		Addr:           addr,
		TLSConfig:      &tls.Config{Certificates: []tls.Certificate{cert.TLSCert}},
		MaxIdleTimeout: 30 * time.Second,
	}, path, func(sess quicwt.Session, err error) {
		if err != nil {
			slog.Warn("webtransport upgrade failed", "error", err)
			return
		}
		go serve(ctx, sess)
	})

	go func() {
		<-ctx.Done()
		if err := upgrader.Close(); err != nil {
			slog.Warn("upgrader close error", "error", err)
		}
	}()

	if err := upgrader.ListenAndServe(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// serve runs one MoQ session end to end. The client opens the control
// stream as the first thing it does after the WebTransport handshake, so a
// RoleServer session accepts it rather than opening its own.
func serve(ctx context.Context, conn quicwt.Session) {
	acceptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	control, err := conn.AcceptStream(acceptCtx)
	cancel()
	if err != nil {
		slog.Warn("failed to accept control stream", "error", err)
		return
	}

	sess := session.NewSession(conn, control, session.Config{
		Role:                  session.RoleServer,
		InitialMaxSubscribeID: 100,
		ServerSetupCallback: func(wire.ClientSetup) (wire.ServerSetup, error) {
			return wire.ServerSetup{SelectedVersion: wire.Version, MaxSubscribeID: 100}, nil
		},
	})

	go logEvents(sess)

	if err := sess.Run(ctx); err != nil {
		slog.Info("session ended", "error", err)
	}
}

// logEvents drains the events an application would use to answer
// SUBSCRIBE/FETCH/ANNOUNCE offers with real track data. This demo rejects
// every SUBSCRIBE and FETCH, since it publishes no tracks of its own, and
// accepts every ANNOUNCE and SUBSCRIBE_ANNOUNCES.
func logEvents(sess *session.Session) {
	for ev := range sess.Events() {
		switch e := ev.(type) {
		case *session.SubscribeRequest:
			slog.Info("subscribe request", "track", e.FullTrackName(), "id", e.SubscribeID())
			if err := e.Reject(noSuchTrackErrorCode, "no tracks published"); err != nil {
				slog.Warn("reject subscribe failed", "error", err)
			}
		case *session.FetchRequest:
			slog.Info("fetch request", "track", e.FullTrackName(), "id", e.FetchID())
			if err := e.Reject(noSuchTrackErrorCode, "no tracks published"); err != nil {
				slog.Warn("reject fetch failed", "error", err)
			}
		case *session.AnnounceEvent:
			slog.Info("announce", "namespace", e.Namespace())
			if err := e.Accept(); err != nil {
				slog.Warn("accept announce failed", "error", err)
			}
		case *session.SubscribeAnnouncesRequest:
			slog.Info("subscribe announces", "prefix", e.NamespacePrefix())
			if err := e.Accept(); err != nil {
				slog.Warn("accept subscribe announces failed", "error", err)
			}
		case *session.UnannounceEvent:
			slog.Info("unannounce", "namespace", e.Namespace)
		case *session.GoAwayEvent:
			slog.Info("goaway received", "new_uri", e.NewSessionURI)
		default:
			slog.Debug("unhandled session event", "type", ev)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
