package pgsource

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/maxpert/waljson/capture"
	"github.com/maxpert/waljson/telemetry"
	"github.com/rs/zerolog/log"
)

// Replicator manages PostgreSQL logical replication and feeds a handler
type Replicator struct {
	config    Config
	conn      *pgconn.PgConn
	decoder   *decoder
	confirmed atomic.Uint64
	lastMsg   atomic.Int64
}

// NewReplicator creates a new Replicator. types may be nil.
func NewReplicator(config Config, handler capture.Handler, types TypeRegistry) (*Replicator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	config.applyDefaults()

	return &Replicator{
		config:  config,
		decoder: newDecoder(handler, types),
	}, nil
}

// ConfirmedLSN returns the last LSN acknowledged to the server
func (r *Replicator) ConfirmedLSN() pglogrepl.LSN {
	return pglogrepl.LSN(r.confirmed.Load())
}

// TimeSinceLastMsg returns how long ago the server last sent anything
func (r *Replicator) TimeSinceLastMsg() time.Duration {
	return time.Since(time.UnixMilli(r.lastMsg.Load()))
}

// Start begins replication. It blocks until the context is cancelled, the
// handler fails, or an unrecoverable error occurs.
func (r *Replicator) Start(ctx context.Context) error {
	if err := r.connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer r.conn.Close(context.Background())

	if r.config.CreatePublication {
		if err := r.setupPublication(ctx); err != nil {
			return fmt.Errorf("setup publication: %w", err)
		}
	}

	if r.config.CreateSlot {
		if err := r.createReplicationSlot(ctx); err != nil {
			return fmt.Errorf("create replication slot: %w", err)
		}
	}

	sysident, err := pglogrepl.IdentifySystem(ctx, r.conn)
	if err != nil {
		return fmt.Errorf("identify system: %w", err)
	}

	log.Info().
		Str("system_id", sysident.SystemID).
		Int32("timeline", sysident.Timeline).
		Str("xlog_pos", sysident.XLogPos.String()).
		Str("slot", r.config.SlotName).
		Str("publication", r.config.PublicationName).
		Msg("Connected for logical replication")

	// 0/0 resumes from the slot's confirmed position
	if err := r.startReplication(ctx, 0); err != nil {
		return fmt.Errorf("start replication: %w", err)
	}

	return r.receiveMessages(ctx)
}

// Close closes the connection
func (r *Replicator) Close() error {
	if r.conn != nil {
		return r.conn.Close(context.Background())
	}
	return nil
}

// connect establishes a replication connection
func (r *Replicator) connect(ctx context.Context) error {
	dsn, err := replicationDSN(r.config.ConnectionString)
	if err != nil {
		return err
	}
	conn, err := pgconn.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	r.conn = conn
	return nil
}

// setupPublication creates a publication for all tables unless it exists
func (r *Replicator) setupPublication(ctx context.Context) error {
	query, err := publicationQuery(r.config.PublicationName)
	if err != nil {
		return err
	}
	results, err := r.conn.Exec(ctx, query).ReadAll()
	if err != nil {
		return fmt.Errorf("query publication: %w", err)
	}
	if len(results) > 0 && len(results[0].Rows) > 0 {
		return nil
	}

	createSQL := fmt.Sprintf("CREATE PUBLICATION %s FOR ALL TABLES", pgx.Identifier{r.config.PublicationName}.Sanitize())
	if _, err := r.conn.Exec(ctx, createSQL).ReadAll(); err != nil {
		return fmt.Errorf("create publication: %w", err)
	}

	log.Info().Str("publication", r.config.PublicationName).Msg("Created publication")
	return nil
}

// createReplicationSlot creates the replication slot
func (r *Replicator) createReplicationSlot(ctx context.Context) error {
	res, err := pglogrepl.CreateReplicationSlot(
		ctx,
		r.conn,
		r.config.SlotName,
		"pgoutput",
		pglogrepl.CreateReplicationSlotOptions{
			Temporary: r.config.TemporarySlot,
		},
	)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return err
	}

	log.Info().
		Str("slot", res.SlotName).
		Str("consistent_point", res.ConsistentPoint).
		Msg("Created replication slot")
	return nil
}

// startReplication begins the replication stream
func (r *Replicator) startReplication(ctx context.Context, startPos pglogrepl.LSN) error {
	pluginArgs := []string{
		"proto_version '1'",
		fmt.Sprintf("publication_names '%s'", strings.ReplaceAll(r.config.PublicationName, "'", "''")),
		"messages 'true'",
	}

	return pglogrepl.StartReplication(
		ctx,
		r.conn,
		r.config.SlotName,
		startPos,
		pglogrepl.StartReplicationOptions{
			PluginArgs: pluginArgs,
		},
	)
}

func (r *Replicator) sendStatus(ctx context.Context) error {
	pos := r.ConfirmedLSN()
	err := pglogrepl.SendStandbyStatusUpdate(ctx, r.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: pos,
		WALFlushPosition: pos,
		WALApplyPosition: pos,
	})
	if err != nil {
		return fmt.Errorf("send standby status: %w", err)
	}
	telemetry.ConfirmedLSN.Set(float64(pos))
	return nil
}

func (r *Replicator) confirm(lsn pglogrepl.LSN) {
	if uint64(lsn) > r.confirmed.Load() {
		r.confirmed.Store(uint64(lsn))
	}
}

// receiveMessages is the main loop that receives and processes replication messages
func (r *Replicator) receiveMessages(ctx context.Context) error {
	nextStandbyDeadline := time.Now().Add(r.config.StandbyMessageTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Now().After(nextStandbyDeadline) {
			if err := r.sendStatus(ctx); err != nil {
				return err
			}
			nextStandbyDeadline = time.Now().Add(r.config.StandbyMessageTimeout)
		}

		msgCtx, cancel := context.WithDeadline(ctx, nextStandbyDeadline)
		rawMsg, err := r.conn.ReceiveMessage(msgCtx)
		cancel()

		if err != nil {
			if pgconn.Timeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive message: %w", err)
		}

		if errMsg, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
			return fmt.Errorf("postgres error: %s", errMsg.Message)
		}
		r.lastMsg.Store(time.Now().UnixMilli())

		msg, ok := rawMsg.(*pgproto3.CopyData)
		if !ok || len(msg.Data) == 0 {
			continue
		}

		switch msg.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
			if err != nil {
				return fmt.Errorf("parse keepalive: %w", err)
			}
			// WAL up to the server end holds nothing for us once no
			// transaction is buffered
			if !r.decoder.InTransaction() {
				r.confirm(pkm.ServerWALEnd)
			}
			telemetry.ServerLSNLagBytes.Set(float64(lagBytes(pkm.ServerWALEnd, r.ConfirmedLSN())))
			if pkm.ReplyRequested {
				nextStandbyDeadline = time.Time{}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
			if err != nil {
				return fmt.Errorf("parse xlog data: %w", err)
			}

			endLSN, committed, err := r.decoder.decode(xld.WALData, xld.WALStart)
			if err != nil {
				return fmt.Errorf("decode wal data at %s: %w", xld.WALStart, err)
			}

			if committed {
				r.confirm(endLSN)
				if err := r.sendStatus(ctx); err != nil {
					return err
				}
				nextStandbyDeadline = time.Now().Add(r.config.StandbyMessageTimeout)
			}
		}
	}
}

func lagBytes(serverEnd, confirmed pglogrepl.LSN) uint64 {
	if serverEnd <= confirmed {
		return 0
	}
	return uint64(serverEnd - confirmed)
}
