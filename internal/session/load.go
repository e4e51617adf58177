package session

import (
	"fmt"

	"github.com/MinBZK/par-dpia-form/internal/model"
	"github.com/rs/zerolog/log"
)

// LoadDocuments loads the schema document of every namespace. A namespace
// whose document fails to load or validate is skipped with a warning; at
// least one must succeed.
func LoadDocuments(paths map[string]string) (map[string]*model.Document, error) {
	docs := make(map[string]*model.Document, len(paths))
	var lastErr error
	for _, name := range sortedKeys(paths) {
		doc, err := model.Load(paths[name])
		if err != nil {
			log.Warn().Err(err).Str("namespace", name).Str("path", paths[name]).Msg("session: namespace not initialised")
			lastErr = err
			continue
		}
		docs[name] = doc
	}
	if len(docs) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoNamespaces, lastErr)
		}
		return nil, ErrNoNamespaces
	}
	return docs, nil
}
