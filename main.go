package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/thereayou/roomchat/cmd/server"
	"github.com/thereayou/roomchat/internal/config"
	"github.com/thereayou/roomchat/internal/models"
	"github.com/thereayou/roomchat/pkg/auth"
)

var (
	flagMintToken = flag.Bool("mint-token", false, "print a signed token for -user-id and exit")
	flagUserID    = flag.String("user-id", "", "user id for -mint-token (random when empty)")
	flagName      = flag.String("name", "", "display name for -mint-token")
	flagAvatar    = flag.String("avatar", "", "avatar URL for -mint-token")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		glog.Errorf("config: %v", err)
		return 2
	}

	if *flagMintToken {
		return mintToken(cfg)
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		glog.Errorf("server: %v", err)
		return 1
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		glog.Errorf("server run error: %v", err)
		return 1
	}
	return 0
}

func mintToken(cfg *config.Config) int {
	if cfg.JWTSecret == "" {
		glog.Error("JWT_SECRET is required to mint a token")
		return 2
	}

	id := uuid.New()
	if *flagUserID != "" {
		parsed, err := uuid.Parse(*flagUserID)
		if err != nil {
			glog.Errorf("invalid -user-id: %v", err)
			return 2
		}
		id = parsed
	}

	token, err := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL).Generate(models.Author{
		ID:          id,
		DisplayName: *flagName,
		AvatarURL:   *flagAvatar,
	})
	if err != nil {
		glog.Errorf("mint token: %v", err)
		return 1
	}
	fmt.Println(token)
	return 0
}
