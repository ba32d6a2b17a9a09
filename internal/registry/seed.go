package registry

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/position-tracker/internal/model"
)

// SeedEntry is one subscription in a seed file.
type SeedEntry struct {
	SubscriberID int64  `yaml:"subscriber_id"`
	ArticleID    int64  `yaml:"article_id"`
	Query        string `yaml:"query"`
	Frequency    int    `yaml:"frequency"`
}

type seedFile struct {
	Subscriptions []SeedEntry `yaml:"subscriptions"`
}

// LoadSeedFile reads a YAML seed file and returns validated subscriptions.
func LoadSeedFile(path string) ([]model.Subscription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read seed file")
	}
	return ParseSeed(data, time.Now().UTC())
}

// ParseSeed decodes seed YAML. Queries are normalized; an invalid entry or a
// repeated key fails the whole file with its index in the message.
func ParseSeed(data []byte, createdAt time.Time) ([]model.Subscription, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "registry: parse seed file")
	}

	seen := make(map[model.Key]bool, len(f.Subscriptions))
	out := make([]model.Subscription, 0, len(f.Subscriptions))
	for i, e := range f.Subscriptions {
		if e.ArticleID <= 0 {
			return nil, eris.Wrapf(&model.ValidationError{Field: "article_id", Reason: "must be positive"},
				"registry: seed entry %d", i)
		}
		q, err := model.NormalizeQuery(e.Query)
		if err != nil {
			return nil, eris.Wrapf(err, "registry: seed entry %d", i)
		}
		if err := model.ValidateFrequency(e.Frequency); err != nil {
			return nil, eris.Wrapf(err, "registry: seed entry %d", i)
		}

		key := model.Key{SubscriberID: e.SubscriberID, ArticleID: e.ArticleID, Query: q}
		if seen[key] {
			return nil, eris.Wrapf(model.ErrDuplicateSubscription, "registry: seed entry %d (%s)", i, key)
		}
		seen[key] = true

		out = append(out, model.Subscription{
			Key:             key,
			ID:              uuid.NewString(),
			FrequencyPerDay: e.Frequency,
			CheckInterval:   time.Duration(model.CheckIntervalHours(e.Frequency)) * time.Hour,
			CreatedAt:       createdAt,
		})
	}
	return out, nil
}
