package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/vidfriends/mutualsync/internal/config"
	"github.com/vidfriends/mutualsync/internal/engine"
	"github.com/vidfriends/mutualsync/internal/models"
	"github.com/vidfriends/mutualsync/internal/ordering"
)

const defaultSummarySize = 10

// runSync performs one full synchronization and prints the friends with the
// most mutual groups. The optional argument caps the summary length.
func runSync(ctx context.Context, args []string) error {
	top := defaultSummarySize
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid summary size %q", args[0])
		}
		top = n
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	deps, cleanup, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = cleanup(context.Background())
	}()

	events, err := deps.coordinator.Start(ctx)
	if err != nil {
		return err
	}
	if err := followRun(os.Stdout, events); err != nil {
		return err
	}

	return printSummary(os.Stdout, deps.coordinator, top)
}

// followRun prints events until the run ends and returns its error, if any.
func followRun(w io.Writer, events <-chan engine.Event) error {
	var runErr error
	for ev := range events {
		switch ev.Kind {
		case engine.EventPhaseChanged:
			fmt.Fprintf(w, "phase: %s\n", ev.State)
		case engine.EventProgress:
			fmt.Fprintf(w, "progress: %d/%d\n", ev.Completed, ev.Total)
		case engine.EventError:
			runErr = ev.Err
		}
	}
	if runErr != nil {
		return fmt.Errorf("sync failed: %w", runErr)
	}
	return nil
}

type membershipView interface {
	Friends(order ordering.FriendOrder) []models.Person
	MutualGroupsOf(friendID string) ([]models.Group, error)
}

func printSummary(w io.Writer, view membershipView, top int) error {
	friends := view.Friends(ordering.FriendsByMutualCount)
	if top < len(friends) {
		friends = friends[:top]
	}
	for i, p := range friends {
		groups, err := view.MutualGroupsOf(p.ID)
		if err != nil {
			return fmt.Errorf("mutual groups of %s: %w", p.ID, err)
		}
		fmt.Fprintf(w, "%2d. %-32s %d\n", i+1, p.DisplayName(), len(groups))
	}
	return nil
}
