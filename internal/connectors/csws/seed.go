package csws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
)

// Users that never own a crawlable workspace.
var skippedUsers = map[int64]bool{1000: true, 1001: true}

// AddSeedDocuments resolves each start point under the enterprise workspace
// and optionally every user workspace. It keeps no seed version.
func (c *Connector) AddSeedDocuments(
	ctx context.Context,
	acts crawler.SeedActivities,
	spec crawler.DocumentSpec,
	_ string,
	_ time.Time,
	_ crawler.JobMode,
) (string, error) {
	sess, err := c.getSession(ctx)
	if err != nil {
		return "", err
	}
	b := newBatch(c, sess)

	root, err := b.node(ctx, c.enterpriseID)
	if err != nil {
		return "", err
	}
	if root == nil {
		c.logger.Warn("could not look up root workspace object during seeding")
		si := crawler.NewServiceInterruption("service interruption during seeding",
			errors.New("could not look up root workspace object"), c.now(), time.Minute, 10*time.Minute)
		si.AbortOnFail = true
		return "", si
	}

	userWorkspaces := false
	for _, n := range spec.Nodes {
		switch n.Type {
		case NodeStartPoint:
			begin := c.now()
			path := n.Attr("path")
			id, found, err := b.resolvePath(ctx, root.ID, path, false)
			if err != nil {
				return "", err
			}
			act := crawler.Activity{Type: ActivitySeed, Start: begin, Entity: path, ResultCode: "OK"}
			if !found {
				c.logger.Debug("start path no longer present", zap.String("path", path))
				act.ResultCode = "NOT FOUND"
			}
			if err := acts.RecordActivity(ctx, act); err != nil {
				return "", err
			}
			if found {
				if err := acts.AddSeedDocument(ctx, crawler.FolderID(id)); err != nil {
					return "", err
				}
			}
		case NodeUserWorkspace:
			switch n.Attr("value") {
			case "true":
				userWorkspaces = true
			case "false":
				userWorkspaces = false
			}
		}
	}
	if userWorkspaces {
		if err := c.seedUserWorkspaces(ctx, sess, acts); err != nil {
			return "", err
		}
	}
	return "", nil
}

func (c *Connector) seedUserWorkspaces(ctx context.Context, sess Session, acts crawler.SeedActivities) error {
	handle := ""
	for {
		type page struct {
			members []Member
			next    string
		}
		p, err := invoke(ctx, c, "list users", func(ctx context.Context) (page, error) {
			m, next, err := sess.ListUsers(ctx, handle)
			return page{members: m, next: next}, err
		})
		if err != nil {
			return err
		}
		if len(p.members) == 0 {
			return nil
		}
		for _, m := range p.members {
			if skippedUsers[m.ID] {
				continue
			}
			if err := acts.AddSeedDocument(ctx, crawler.FolderID(m.ID)); err != nil {
				return fmt.Errorf("seed user workspace %d: %w", m.ID, err)
			}
		}
		if p.next == "" {
			return nil
		}
		handle = p.next
	}
}
