package seeder

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	tokenrepo "github.com/Additional-Code/raffle/internal/repository/token"
)

const importBatchSize = 500

// Module provides the token seeder to Fx.
var Module = fx.Provide(New)

// Seeder provisions the token pool.
type Seeder struct {
	tokens *tokenrepo.Repository
	logger *zap.Logger
}

// New constructs a Seeder backed by the token inventory.
func New(tokens *tokenrepo.Repository, logger *zap.Logger) *Seeder {
	return &Seeder{tokens: tokens, logger: logger}
}

// Tokens imports codes in batches, skipping codes already in the pool. It returns how many were added.
func (s *Seeder) Tokens(ctx context.Context, codes []string) (int, error) {
	added := 0
	for start := 0; start < len(codes); start += importBatchSize {
		end := min(start+importBatchSize, len(codes))
		n, err := s.tokens.Import(ctx, codes[start:end])
		if err != nil {
			return added, fmt.Errorf("import tokens %d-%d: %w", start, end, err)
		}
		added += n
	}

	if s.logger != nil {
		s.logger.Info("seeded tokens",
			zap.Int("read", len(codes)),
			zap.Int("added", added),
			zap.Int("skipped", len(codes)-added),
		)
	}
	return added, nil
}

// TokensFromFile imports the codes listed in a CSV file.
func (s *Seeder) TokensFromFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	codes, skipped, err := ReadCSV(f)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	if skipped > 0 && s.logger != nil {
		s.logger.Warn("skipped invalid rows", zap.String("file", path), zap.Int("rows", skipped))
	}
	return s.Tokens(ctx, codes)
}
