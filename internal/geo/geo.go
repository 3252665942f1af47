package geo

import (
	"context"
	"math"
	"sync"

	"github.com/example/fleet-availability/internal/models"
)

const earthRadiusKm = 6371.0

// Kind selects which point set an index query runs against.
type Kind string

const (
	KindZone    Kind = "zones"
	KindVehicle Kind = "vehicles"
)

// Hit is a point returned by an index query. DistanceKm is what the index
// reported; callers that need an exact answer recompute it.
type Hit struct {
	ID         string
	Loc        models.Coord
	DistanceKm float64
}

// Index is a point-radius lookup. Results are the nearest limit points
// inside radiusKm, in ascending distance.
type Index interface {
	Upsert(ctx context.Context, kind Kind, id string, loc models.Coord) error
	Remove(ctx context.Context, kind Kind, id string) error
	Nearby(ctx context.Context, kind Kind, center models.Coord, radiusKm float64, limit int) ([]Hit, error)
}

type MemoryIndex struct {
	mu     sync.RWMutex
	points map[Kind]map[string]models.Coord
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[Kind]map[string]models.Coord)}
}

func (g *MemoryIndex) Upsert(_ context.Context, kind Kind, id string, loc models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.points[kind]
	if !ok {
		set = make(map[string]models.Coord)
		g.points[kind] = set
	}
	set[id] = loc
	return nil
}

func (g *MemoryIndex) Remove(_ context.Context, kind Kind, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.points[kind], id)
	return nil
}

// naive scan; fine for the in-process fallback, production uses Redis
func (g *MemoryIndex) Nearby(_ context.Context, kind Kind, center models.Coord, radiusKm float64, limit int) ([]Hit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	arr := make([]Hit, 0, len(g.points[kind]))
	for id, loc := range g.points[kind] {
		d := DistanceKm(center, loc)
		if d > radiusKm {
			continue
		}
		arr = append(arr, Hit{ID: id, Loc: loc, DistanceKm: d})
	}
	// partial selection sort for top-N
	n := limit
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].DistanceKm < arr[minIdx].DistanceKm ||
				(arr[j].DistanceKm == arr[minIdx].DistanceKm && arr[j].ID < arr[minIdx].ID) {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	return arr[:n], nil
}

// DistanceKm is the great-circle distance between two points.
func DistanceKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon) / 1000
}

// InCircle reports whether p lies within radiusKm of center, boundary included.
func InCircle(p, center models.Coord, radiusKm float64) bool {
	return DistanceKm(p, center) <= radiusKm
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = earthRadiusKm * 1000
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
