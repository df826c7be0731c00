package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"kataigo/internal/adapters"
	"kataigo/internal/domain/sgf"
)

// GameRecordRepository keeps the record of the game in progress in redis and
// archives finished games to mongo. Either backend may be absent; whatever
// is missing is simply skipped.
type GameRecordRepository struct {
	log    *zap.SugaredLogger
	redis  *adapters.AdapterRedis
	mongo  *adapters.AdapterMongo
	gameID string
}

func NewGameRecordRepository(redis *adapters.AdapterRedis, mongo *adapters.AdapterMongo, log *zap.SugaredLogger) *GameRecordRepository {
	return &GameRecordRepository{
		log:    log,
		redis:  redis,
		mongo:  mongo,
		gameID: uuid.New().String(),
	}
}

// StartGame begins a fresh record under a new game id.
func (r *GameRecordRepository) StartGame() {
	r.gameID = uuid.New().String()
}

func (r *GameRecordRepository) key() string {
	return "game:" + r.gameID
}

// SaveLive stores the current SGF under the live game key.
func (r *GameRecordRepository) SaveLive(ctx context.Context, rec *sgf.Record) error {
	if r.redis == nil {
		return nil
	}
	if err := r.redis.GetClient().Set(ctx, r.key(), rec.String(), 0).Err(); err != nil {
		return fmt.Errorf("save live game %s: %w", r.gameID, err)
	}
	return nil
}

// Archive writes the finished game to the archive collection and removes the
// live key.
func (r *GameRecordRepository) Archive(ctx context.Context, rec *sgf.Record) error {
	if r.mongo != nil {
		doc := bson.M{
			"game_id":     r.gameID,
			"sgf":         rec.String(),
			"moves":       len(rec.Moves),
			"board_size":  rec.Size,
			"komi":        rec.Komi,
			"finished_at": time.Now().UTC(),
		}
		if _, err := r.mongo.Database.Collection("games").InsertOne(ctx, doc); err != nil {
			return fmt.Errorf("archive game %s: %w", r.gameID, err)
		}
	}
	if r.redis != nil {
		if err := r.redis.GetClient().Del(ctx, r.key()).Err(); err != nil {
			r.log.Warnw("failed to delete live game key", "gameID", r.gameID, "error", err)
		}
	}
	return nil
}
