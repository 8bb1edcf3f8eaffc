package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/fortiblox/glow/pkg/ledstrip"
	"github.com/fortiblox/glow/pkg/push"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// simCmd runs a frame sink that logs every frame it receives.
func simCmd(args []string) error {
	fs := flag.NewFlagSet("sim", flag.ExitOnError)
	listen := fs.String("listen", ":7070", "Listen address")
	verbose := fs.Bool("v", false, "Log every frame")
	fs.Parse(args)

	var (
		logger *zap.Logger
		err    error
	)
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	defer logger.Sync()

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", *listen, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	frameLog := logger.Named("sim")
	srv := push.NewServer(func(ctx context.Context, f *push.FrameMessage) error {
		frameLog.Debug("frame",
			zap.String("session", f.Session),
			zap.Uint64("seq", f.Seq),
			zap.Uint16("coefficient", f.Coefficient),
			zap.Int("leds", len(f.Leds)/4),
			zap.Int("lit", push.Lit(ledstrip.Unpack(f.Leds))))
		return nil
	}, logger)

	g := grpc.NewServer()
	srv.Register(g)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("frame sink listening", zap.String("addr", lis.Addr().String()))
		return g.Serve(lis)
	})
	eg.Go(func() error {
		<-ctx.Done()
		g.GracefulStop()
		return nil
	})
	err = eg.Wait()
	logger.Info("frame sink stopped", zap.Uint64("frames", srv.Frames()))
	return err
}
