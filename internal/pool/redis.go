package pool

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/partner-dispatch/internal/geo"
	"github.com/example/partner-dispatch/internal/models"
)

// RedisPool implements Store on Redis GEO commands plus per-partner meta
// hashes. The meta hash carries the staleness TTL, so Redis itself evicts
// abandoned records even if the sweep never runs; the geo index entry is
// reconciled lazily by QueryNear and eagerly by the monitor.
type RedisPool struct {
	client    *redis.Client
	geoKey    string
	staleness time.Duration
}

func NewRedisPool(addr, password, geoKey string, staleness time.Duration) *RedisPool {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisPool{client: c, geoKey: geoKey, staleness: staleness}
}

// NewRedisPoolFromClient wires an existing client, e.g. in the consumer.
func NewRedisPoolFromClient(c *redis.Client, geoKey string, staleness time.Duration) *RedisPool {
	return &RedisPool{client: c, geoKey: geoKey, staleness: staleness}
}

func (p *RedisPool) Close() error { return p.client.Close() }

// Client exposes the underlying connection for collaborators that share
// it, e.g. the verification code store.
func (p *RedisPool) Client() *redis.Client { return p.client }

func (p *RedisPool) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

func metaKey(id string) string    { return "partner:meta:" + id }
func pendingKey(id string) string { return "partner:pending:" + id }
func backupsKey(id string) string { return "order:" + id + ":backups" }

func (p *RedisPool) SetAvailable(ctx context.Context, rec models.AvailabilityRecord) error {
	if err := p.client.GeoAdd(ctx, p.geoKey, &redis.GeoLocation{
		Name:      rec.PartnerID,
		Longitude: rec.Loc.Lon,
		Latitude:  rec.Loc.Lat,
	}).Err(); err != nil {
		return err
	}
	fields := map[string]interface{}{
		"vehicle_type": rec.VehicleType,
		"name":         rec.Name,
		"phone":        rec.Phone,
		"lat":          strconv.FormatFloat(rec.Loc.Lat, 'f', -1, 64),
		"lon":          strconv.FormatFloat(rec.Loc.Lon, 'f', -1, 64),
		"heartbeat":    time.Now().UTC().Format(time.RFC3339Nano),
	}
	pipe := p.client.Pipeline()
	pipe.HSet(ctx, metaKey(rec.PartnerID), fields)
	pipe.Expire(ctx, metaKey(rec.PartnerID), p.staleness)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *RedisPool) SetUnavailable(ctx context.Context, partnerID string) error {
	pipe := p.client.Pipeline()
	pipe.ZRem(ctx, p.geoKey, partnerID)
	pipe.Del(ctx, metaKey(partnerID), pendingKey(partnerID))
	_, err := pipe.Exec(ctx)
	return err
}

func (p *RedisPool) Heartbeat(ctx context.Context, partnerID string, loc *models.Coord) (bool, error) {
	exists, err := p.client.Exists(ctx, metaKey(partnerID)).Result()
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}
	fields := map[string]interface{}{
		"heartbeat": time.Now().UTC().Format(time.RFC3339Nano),
	}
	pipe := p.client.Pipeline()
	if loc != nil {
		fields["lat"] = strconv.FormatFloat(loc.Lat, 'f', -1, 64)
		fields["lon"] = strconv.FormatFloat(loc.Lon, 'f', -1, 64)
		pipe.GeoAdd(ctx, p.geoKey, &redis.GeoLocation{Name: partnerID, Longitude: loc.Lon, Latitude: loc.Lat})
	}
	pipe.HSet(ctx, metaKey(partnerID), fields)
	pipe.Expire(ctx, metaKey(partnerID), p.staleness)
	_, err = pipe.Exec(ctx)
	return err == nil, err
}

func (p *RedisPool) QueryNear(ctx context.Context, origin models.Coord, radiusKm float64, vehicleType string) ([]models.AvailabilityRecord, error) {
	locs, err := p.client.GeoSearchLocation(ctx, p.geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  origin.Lon,
			Latitude:   origin.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.AvailabilityRecord, 0, len(locs))
	for _, l := range locs {
		rec, ok, err := p.Get(ctx, l.Name)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Geo entry survived the meta TTL; reconcile lazily.
			_ = p.client.ZRem(ctx, p.geoKey, l.Name).Err()
			continue
		}
		if time.Since(rec.HeartbeatAt) > p.staleness {
			continue
		}
		if !geo.VehicleMatches(rec.VehicleType, vehicleType) {
			continue
		}
		held, err := p.client.Exists(ctx, pendingKey(l.Name)).Result()
		if err != nil {
			return nil, err
		}
		if held > 0 {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (p *RedisPool) Get(ctx context.Context, partnerID string) (models.AvailabilityRecord, bool, error) {
	m, err := p.client.HGetAll(ctx, metaKey(partnerID)).Result()
	if err != nil {
		return models.AvailabilityRecord{}, false, err
	}
	if len(m) == 0 {
		return models.AvailabilityRecord{}, false, nil
	}
	rec := models.AvailabilityRecord{
		PartnerID:   partnerID,
		VehicleType: m["vehicle_type"],
		Name:        m["name"],
		Phone:       m["phone"],
	}
	rec.Loc.Lat, _ = strconv.ParseFloat(m["lat"], 64)
	rec.Loc.Lon, _ = strconv.ParseFloat(m["lon"], 64)
	if hb, err := time.Parse(time.RFC3339Nano, m["heartbeat"]); err == nil {
		rec.HeartbeatAt = hb
	}
	return rec, true, nil
}

func (p *RedisPool) Snapshot(ctx context.Context) ([]models.AvailabilityRecord, error) {
	var out []models.AvailabilityRecord
	iter := p.client.Scan(ctx, 0, metaKey("*"), 200).Iterator()
	for iter.Next(ctx) {
		id := iter.Val()[len("partner:meta:"):]
		rec, ok, err := p.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, iter.Err()
}

func (p *RedisPool) ClaimOffer(ctx context.Context, partnerID, orderID string, ttl time.Duration) (bool, error) {
	return p.client.SetNX(ctx, pendingKey(partnerID), orderID, ttl).Result()
}

func (p *RedisPool) ReleaseOffer(ctx context.Context, partnerID string) error {
	return p.client.Del(ctx, pendingKey(partnerID)).Err()
}

func (p *RedisPool) PushBackups(ctx context.Context, orderID string, cands []models.Candidate) error {
	if len(cands) == 0 {
		return nil
	}
	vals := make([]interface{}, 0, len(cands))
	for _, c := range cands {
		b, err := json.Marshal(c)
		if err != nil {
			return err
		}
		vals = append(vals, b)
	}
	pipe := p.client.Pipeline()
	pipe.RPush(ctx, backupsKey(orderID), vals...)
	pipe.Expire(ctx, backupsKey(orderID), backupTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *RedisPool) PopBackup(ctx context.Context, orderID string) (models.Candidate, bool, error) {
	raw, err := p.client.LPop(ctx, backupsKey(orderID)).Result()
	if err == redis.Nil {
		return models.Candidate{}, false, nil
	}
	if err != nil {
		return models.Candidate{}, false, err
	}
	var c models.Candidate
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return models.Candidate{}, false, err
	}
	return c, true, nil
}

func (p *RedisPool) ClearBackups(ctx context.Context, orderID string) error {
	return p.client.Del(ctx, backupsKey(orderID)).Err()
}
