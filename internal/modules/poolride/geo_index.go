// README: Proximity index backed by Redis GEO sets, one per offer endpoint.
package poolride

import (
	"context"

	"github.com/redis/go-redis/v9"

	"glideway/internal/types"
)

const (
	originGeoKey      = "poolride:geo:origin"
	destinationGeoKey = "poolride:geo:destination"
)

type RedisGeoIndex struct {
	redis *redis.Client
}

func NewRedisGeoIndex(redis *redis.Client) *RedisGeoIndex {
	return &RedisGeoIndex{redis: redis}
}

func geoKey(e Endpoint) string {
	if e == EndpointDestination {
		return destinationGeoKey
	}
	return originGeoKey
}

func (g *RedisGeoIndex) Add(ctx context.Context, o *Offer) error {
	pipe := g.redis.TxPipeline()
	pipe.GeoAdd(ctx, originGeoKey, &redis.GeoLocation{
		Name:      string(o.ID),
		Longitude: o.Origin.Lng,
		Latitude:  o.Origin.Lat,
	})
	pipe.GeoAdd(ctx, destinationGeoKey, &redis.GeoLocation{
		Name:      string(o.ID),
		Longitude: o.Destination.Lng,
		Latitude:  o.Destination.Lat,
	})
	_, err := pipe.Exec(ctx)
	return err
}

func (g *RedisGeoIndex) Remove(ctx context.Context, id types.ID) error {
	pipe := g.redis.TxPipeline()
	pipe.ZRem(ctx, originGeoKey, string(id))
	pipe.ZRem(ctx, destinationGeoKey, string(id))
	_, err := pipe.Exec(ctx)
	return err
}

// Nearby returns offer ids within radiusKm of p, nearest first.
func (g *RedisGeoIndex) Nearby(ctx context.Context, e Endpoint, p types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := g.redis.GeoSearch(ctx, geoKey(e), &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}
