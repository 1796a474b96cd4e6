package courier

import "github.com/hypothesize-tech/courier/internal/entity"

// Entity is the base type embedded by all courier domain objects.
type Entity = entity.Entity

// NewEntity returns an Entity with both timestamps set to the current UTC time.
func NewEntity() Entity {
	return entity.New()
}
