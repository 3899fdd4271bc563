package privacy

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/pkg/errors"
	"github.com/inferloop/deident/pkg/models"
)

// RandomSource picks the pool entries for synthetic records. *rand.Rand
// satisfies it; tests inject a scripted source.
type RandomSource interface {
	Intn(n int) int
}

type KAnonymityConfig struct {
	K                   int      `json:"k" yaml:"k"`
	QuasiIdentifiers    []string `json:"quasi_identifiers" yaml:"quasi_identifiers"`
	SensitiveAttributes []string `json:"sensitive_attributes" yaml:"sensitive_attributes"`
}

// Validate checks the target and that the two column lists are usable.
func (c *KAnonymityConfig) Validate() error {
	if c.K < 1 {
		return errors.NewValidationError(errors.CodeInvalidThreshold,
			fmt.Sprintf("k must be at least 1, got %d", c.K))
	}
	if len(c.QuasiIdentifiers) == 0 {
		return errors.NewValidationError(errors.CodeMissingField, "no quasi-identifier columns given")
	}
	return nil
}

// KAnonymityProcessor pads under-sized QI groups with synthetic records until
// every group reaches K.
type KAnonymityProcessor struct {
	config *KAnonymityConfig
	rng    RandomSource
	logger *logrus.Logger
	mu     sync.Mutex
}

// AugmentationResult describes one Augment call.
type AugmentationResult struct {
	Dataset         *models.Dataset `json:"-"`
	Added           int             `json:"added"`
	GroupsAugmented int             `json:"groups_augmented"`
	PoolSize        int             `json:"pool_size"`
}

func NewKAnonymityProcessor(config *KAnonymityConfig, rng RandomSource, logger *logrus.Logger) *KAnonymityProcessor {
	if config == nil {
		config = getDefaultKAnonymityConfig()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &KAnonymityProcessor{
		config: config,
		rng:    rng,
		logger: logger,
	}
}

// Augment returns ds with synthetic records appended so that every QI group
// has at least K rows. Existing rows are kept unchanged and in place. When no
// group is deficient ds itself is returned.
func (k *KAnonymityProcessor) Augment(ctx context.Context, ds *models.Dataset) (*AugmentationResult, error) {
	if err := k.config.Validate(); err != nil {
		return nil, err
	}
	if missing := MissingColumns(ds, k.config.SensitiveAttributes); len(missing) > 0 {
		return nil, errors.WrapError(errors.ErrMissingColumn, errors.ErrorTypeValidation, errors.CodeMissingColumn,
			"sensitive columns not in dataset").WithDetails(strings.Join(missing, ", "))
	}

	grouping, err := GroupBy(ds, k.config.QuasiIdentifiers)
	if err != nil {
		return nil, err
	}

	deficient := grouping.Below(k.config.K)
	if len(deficient) == 0 {
		k.logger.WithFields(logrus.Fields{
			"groups": grouping.Len(),
			"k":      k.config.K,
		}).Info("All groups meet k; augmentation not needed")
		return &AugmentationResult{Dataset: ds}, nil
	}

	pool := k.sensitivePool(ds)
	if len(pool) == 0 {
		return nil, errors.WrapError(errors.ErrAugmentationPoolEmpty, errors.ErrorTypeAugmentation, errors.CodePoolEmpty,
			"no record has every sensitive attribute defined").
			WithContext("deficient_groups", len(deficient)).
			WithContext("k", k.config.K)
	}

	sensIdx := make([]int, len(k.config.SensitiveAttributes))
	for i, c := range k.config.SensitiveAttributes {
		sensIdx[i] = ds.ColumnIndex(c)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	var synthetic [][]models.Value
	for _, class := range deficient {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		representative := ds.Rows[class.Rows[0]]
		for i := 0; i < k.config.K-class.Size; i++ {
			row := make([]models.Value, len(ds.Columns))
			for _, idx := range grouping.indexes {
				row[idx] = representative[idx]
			}
			draw := pool[k.rng.Intn(len(pool))]
			for j, idx := range sensIdx {
				row[idx] = draw[j]
			}
			synthetic = append(synthetic, row)
		}

		k.logger.WithFields(logrus.Fields{
			"group":   class.String(),
			"size":    class.Size,
			"deficit": k.config.K - class.Size,
		}).Debug("Padding under-sized group")
	}

	out, err := ds.Append(synthetic...)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "failed to append synthetic records")
	}

	k.logger.WithFields(logrus.Fields{
		"groups_augmented": len(deficient),
		"records_added":    len(synthetic),
		"pool_size":        len(pool),
		"k":                k.config.K,
	}).Info("Augmentation completed")

	return &AugmentationResult{
		Dataset:         out,
		Added:           len(synthetic),
		GroupsAugmented: len(deficient),
		PoolSize:        len(pool),
	}, nil
}

// sensitivePool collects the sensitive tuples of every row whose sensitive
// cells are all defined, in row order.
func (k *KAnonymityProcessor) sensitivePool(ds *models.Dataset) [][]models.Value {
	idx := make([]int, len(k.config.SensitiveAttributes))
	for i, c := range k.config.SensitiveAttributes {
		idx[i] = ds.ColumnIndex(c)
	}

	pool := make([][]models.Value, 0, len(ds.Rows))
rows:
	for _, row := range ds.Rows {
		tuple := make([]models.Value, len(idx))
		for i, j := range idx {
			if !row[j].Valid {
				continue rows
			}
			tuple[i] = row[j]
		}
		pool = append(pool, tuple)
	}
	return pool
}

func getDefaultKAnonymityConfig() *KAnonymityConfig {
	return &KAnonymityConfig{
		K: constants.DefaultTargetK,
	}
}
