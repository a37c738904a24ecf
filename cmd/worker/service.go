package main

import (
	"context"
	"log"
	"time"
)

const (
	orphanScanInterval = time.Minute
	orphanBatchLimit   = 20
)

// OrphanReviver - часть сервиса, нужная фоновой переотправке
type OrphanReviver interface {
	ReviveOrphans(ctx context.Context, limit int)
}

func recoveryLoop(ctx context.Context, svc OrphanReviver) {
	defer func() {
		if r := recover(); r != nil {
			log.Println("Recovery loop crashed:", r)
		}
	}()

	ticker := time.NewTicker(orphanScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.ReviveOrphans(ctx, orphanBatchLimit)
		}
	}
}
