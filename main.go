package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalln("failed to load config", err)
	}

	userRepo, playRepo, err := openRepositories(cfg.DBURL)
	if err != nil {
		log.Fatalln("failed to open database", err)
	}

	service := NewService(userRepo, playRepo, cfg.JWTSecret, cfg.CredentialTTL)
	defer service.close()

	spotify := NewSpotifyClient(cfg.Spotify)
	radio := NewRadio(cfg.Room, service, spotify, spotify)
	echoRouter := NewHTTPRouter(service, radio, cfg.JWTSecret)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return radio.Start(ctx)
	})
	g.Go(func() error {
		err := echoRouter.Start(cfg.ListenAddr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("shutting down")
		radio.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return echoRouter.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Println("exited with error", err)
	}
}

func openRepositories(dbURL string) (UserRepository, PlayRepository, error) {
	log.Println("database url", dbURL)
	u, err := url.Parse(dbURL)
	if err != nil {
		return nil, nil, err
	}

	switch u.Scheme {
	case "sqlite":
		db, err := NewSQLiteRepository(u.Host + u.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil

	case "postgres":
		db, err := NewPostgresRepository(dbURL)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	}
	return nil, nil, fmt.Errorf("unsupported database scheme %q", u.Scheme)
}
