// Command latticectl applies a fixture graph to a fresh in-memory lattice,
// checks the relationship invariants and prints a JSON report.
//
// Usage:
//
//	latticectl [-config lattice.yaml] [-env .env] -fixture graph.yaml
//
// The exit status is 1 if any invariant is violated and 2 on usage or
// load errors.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/lattice/internal/config"
	"github.com/jacentio/lattice/internal/fixture"
	"github.com/jacentio/lattice/loader"
	"github.com/jacentio/lattice/relation"
	"github.com/jacentio/lattice/store"
)

// Report is the JSON document written to stdout.
type Report struct {
	Counts     map[string]int               `json:"counts"`
	Keys       map[string]map[string]string `json:"keys"`
	Users      map[string]userReport        `json:"users"`
	Conflicts  []conflictReport             `json:"conflicts"`
	Violations []relation.Violation         `json:"violations"`
}

type conflictReport struct {
	EntityType string `json:"entityType"`
	ID         string `json:"id"`
	Reason     string `json:"reason"`
}

// userReport summarizes a surviving fixture user, keyed by its fixture key.
type userReport struct {
	ID         string `json:"id"`
	Posts      int    `json:"posts"`
	Profile    string `json:"profile,omitempty"`
	MemberType string `json:"memberType,omitempty"`
	Discount   int    `json:"discount,omitempty"`
	Following  int    `json:"following"`
	Followers  int    `json:"followers"`
}

var errViolations = errors.New("invariant violations found")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	switch {
	case err == nil:
	case errors.Is(err, errViolations):
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, "latticectl:", err)
		os.Exit(2)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("latticectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML configuration file")
	fixturePath := fs.String("fixture", "", "YAML fixture graph to apply")
	envFile := fs.String("env", "", "env file loaded before LATTICE_* overrides (default ./.env if present)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fixturePath == "" {
		return errors.New("-fixture is required")
	}

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(*configPath, envFiles...)
	if err != nil {
		return err
	}
	logger, err := cfg.Log.Logger(stderr)
	if err != nil {
		return err
	}

	graph, err := fixture.Load(*fixturePath)
	if err != nil {
		return err
	}

	c, err := relation.New(cfg.Relation, logger)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}

	res, err := fixture.Apply(ctx, c, graph)
	if err != nil {
		return fmt.Errorf("apply fixture: %w", err)
	}
	logger.Info("fixture applied",
		"users", len(res.Users),
		"profiles", len(res.Profiles),
		"posts", len(res.Posts),
		"conflicts", len(res.Conflicts))

	report, err := buildReport(ctx, c, res, cfg.Loader)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if len(report.Violations) > 0 {
		for _, v := range report.Violations {
			logger.Error("invariant violated", "violation", v.String())
		}
		return errViolations
	}
	return nil
}

func buildReport(ctx context.Context, c *relation.Coordinator, res *fixture.Result, lc loader.Config) (*Report, error) {
	counts, err := c.Counts(ctx)
	if err != nil {
		return nil, err
	}
	violations, err := c.Verify(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	users, err := summarizeUsers(ctx, c, res.Users, lc)
	if err != nil {
		return nil, fmt.Errorf("summarize users: %w", err)
	}

	r := &Report{
		Counts: counts,
		Users:  users,
		Keys: map[string]map[string]string{
			"users":    res.Users,
			"profiles": res.Profiles,
			"posts":    res.Posts,
		},
		Conflicts:  conflicts(res.Conflicts),
		Violations: violations,
	}
	if r.Violations == nil {
		r.Violations = []relation.Violation{}
	}
	return r, nil
}

// summarizeUsers resolves each user's posts, profile and member type through
// one loader scope, so lookups for all users are batched together.
func summarizeUsers(ctx context.Context, c *relation.Coordinator, keys map[string]string, lc loader.Config) (map[string]userReport, error) {
	ctx, l := loader.Scope(ctx, c, lc)

	ids := make([]string, 0, len(keys))
	keyOf := make(map[string]string, len(keys))
	for key, id := range keys {
		ids = append(ids, id)
		keyOf[id] = key
	}
	sort.Strings(ids)

	users, err := l.UsersByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]userReport, len(users))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range users {
		g.Go(func() error {
			rep := userReport{
				ID:        u.ID,
				Following: len(u.UserSubscribedToIDs),
				Followers: len(u.SubscribedToUserIDs),
			}
			posts, err := l.PostsOfUser(gctx, u.ID)
			if err != nil {
				return err
			}
			rep.Posts = len(posts)

			p, ok, err := l.ProfileOfUser(gctx, u.ID)
			if err != nil {
				return err
			}
			if ok {
				rep.Profile = p.ID
				rep.MemberType = p.MemberTypeID
				mt, ok, err := l.MemberType(gctx, p.MemberTypeID)
				if err != nil {
					return err
				}
				if ok {
					rep.Discount = mt.Discount
				}
			}
			out[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byKey := make(map[string]userReport, len(out))
	for _, rep := range out {
		byKey[keyOf[rep.ID]] = rep
	}
	return byKey, nil
}

func conflicts(in []*store.Conflict) []conflictReport {
	out := make([]conflictReport, 0, len(in))
	for _, c := range in {
		out = append(out, conflictReport{EntityType: c.EntityType, ID: c.ID, Reason: c.Reason})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
