package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/aura-studio/reelsmith/internal/events"
	"github.com/aura-studio/reelsmith/internal/models"
	"github.com/aura-studio/reelsmith/internal/videos"
	"github.com/aura-studio/reelsmith/internal/worker"
	"github.com/aura-studio/reelsmith/pkg/database"
	"github.com/aura-studio/reelsmith/pkg/queue"
	"github.com/aura-studio/reelsmith/pkg/redis"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withPool(cmd.Context(), func(pool *pgxpool.Pool) error {
				if err := database.Migrate(cmd.Context(), pool, ctx.log()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
				return nil
			})
		},
	}
}

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueDeadCommand(ctx))
	queueCmd.AddCommand(newQueueRequeueCommand(ctx))
	return queueCmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pending and dead-lettered job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRedis(cmd.Context(), func(rdb *redis.Client) error {
				stats, err := queue.NewQueue(rdb.Client, ctx.log()).Stats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Queue", "Jobs"},
					[][]string{
						{queue.QueueJobs, strconv.FormatInt(stats.Pending, 10)},
						{queue.QueueDLQ, strconv.FormatInt(stats.DeadLettered, 10)},
					},
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newQueueDeadCommand(ctx *commandContext) *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "dead",
		Short: "List dead-lettered jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRedis(cmd.Context(), func(rdb *redis.Client) error {
				jobs, err := queue.NewQueue(rdb.Client, ctx.log()).DeadLetters(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Dead-letter queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Job", "Type", "Video", "Scene", "Attempts", "Created"},
					deadLetterRows(jobs),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&limit, "limit", 50, "Maximum number of jobs to list")
	return cmd
}

func deadLetterRows(jobs []*queue.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		video, scene := "?", ""
		if p, err := j.VideoPayload(); err == nil {
			video = p.VideoID.String()
			if p.Scene != nil {
				scene = strconv.Itoa(*p.Scene)
			}
		}
		rows = append(rows, []string{
			j.ID, string(j.Type), video, scene,
			strconv.Itoa(j.Attempt), j.CreatedAt.Format(time.RFC3339),
		})
	}
	return rows
}

func newQueueRequeueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <job-id>...",
		Short: "Move dead-lettered jobs back onto the work queue",
		Long: "Move dead-lettered jobs back onto the work queue with their attempt count reset.\n" +
			"A job whose run was already reclaimed or superseded is dropped by the worker.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRedis(cmd.Context(), func(rdb *redis.Client) error {
				q := queue.NewQueue(rdb.Client, ctx.log())
				var missing []string
				for _, id := range args {
					err := q.Requeue(cmd.Context(), id)
					if errors.Is(err, queue.ErrJobNotFound) {
						missing = append(missing, id)
						continue
					}
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s\n", id)
				}
				if len(missing) > 0 {
					return fmt.Errorf("not in dead-letter queue: %s", strings.Join(missing, ", "))
				}
				return nil
			})
		},
	}
}

func newReclaimCommand(ctx *commandContext) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Fail runs that have been running longer than the stale TTL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Worker.StaleTTL
			}
			return ctx.withPool(cmd.Context(), func(pool *pgxpool.Pool) error {
				return ctx.withRedis(cmd.Context(), func(rdb *redis.Client) error {
					r := worker.NewReclaimer(videos.NewRepository(pool), nil,
						events.NewRedisPubSub(rdb.Client, ctx.log()), ttl, 0, ctx.log())
					n, err := r.Sweep(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d stale run(s)\n", n)
					return nil
				})
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Override the configured stale TTL")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <video-id>",
		Short: "Show a video's pipeline status and asset readiness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid video id %q", args[0])
			}
			return ctx.withPool(cmd.Context(), func(pool *pgxpool.Pool) error {
				v, err := videos.NewRepository(pool).Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, statusRows(v), nil))
				return nil
			})
		},
	}
}

func statusRows(v *models.Video) [][]string {
	r := v.Readiness()
	rows := [][]string{
		{"Status", string(v.Status)},
		{"Images", fmt.Sprintf("%d/%d", r.ImagesDone, r.ImagesTotal)},
		{"Audio", yesNo(r.AudioReady)},
		{"Captions", yesNo(r.CaptionsReady)},
		{"Storyboard version", strconv.Itoa(v.StoryboardVersion)},
	}
	if len(v.DirtyScenes) > 0 {
		rows = append(rows, []string{"Dirty scenes", joinInts(v.DirtyScenes)})
	}
	if len(r.Placeholders) > 0 {
		rows = append(rows, []string{"Placeholders", joinInts(r.Placeholders)})
	}
	if v.Status.IsRunning() && v.RunStartedAt != nil {
		rows = append(rows, []string{"Running since", v.RunStartedAt.Format(time.RFC3339)})
	}
	if v.ErrorMessage != "" {
		rows = append(rows, []string{"Error", v.ErrorMessage})
	}
	if v.FinalVideoURL != "" {
		rows = append(rows, []string{"Final video", v.FinalVideoURL})
	}
	return rows
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ", ")
}
