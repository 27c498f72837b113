package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/ItsMoloy/Android-250/libs/grpcx"
	"github.com/ItsMoloy/Android-250/libs/runtime"
)

// startGrpcServer serves grpc.health.v1, reporting SERVING while every
// readiness check passes. An empty port disables it.
func startGrpcServer(ctx context.Context, logger *slog.Logger, port, service string, checks []runtime.ReadyCheck) error {
	if strings.TrimSpace(port) == "" {
		return nil
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	hs := grpcx.NewHealthServer(logger)
	go hs.Watch(ctx, service, 10*time.Second, func(ctx context.Context) error {
		var errs []error
		for _, c := range checks {
			if c.Check == nil {
				continue
			}
			if err := c.Check(ctx); err != nil {
				errs = append(errs, errors.New(c.Name+": "+err.Error()))
			}
		}
		return errors.Join(errs...)
	})

	go func() {
		if err := hs.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		hs.Stop()
	}()

	return nil
}
