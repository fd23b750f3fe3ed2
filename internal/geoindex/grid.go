package geoindex

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/civicpulse/hazard_reporting_engine/internal/models"
)

// metersPerDegree - длина одного градуса широты в метрах (приближенно)
const metersPerDegree = 111320.0

// cellKey - ключ ячейки равномерной сетки по усеченным координатам
type cellKey struct {
	X int // индекс по долготе
	Y int // индекс по широте
}

// Entry - запись об активном инциденте в индексе
type Entry struct {
	ID        uuid.UUID
	Category  models.Category
	Point     orb.Point // orb-порядок: {lng, lat}
	CreatedAt time.Time
}

// Candidate - результат радиусного запроса с вычисленной дистанцией
type Candidate struct {
	Entry
	DistanceMeters float64
}

// Grid - равномерная сетка активных инцидентов для радиусных запросов.
// Размер ячейки равен радиусу кластеризации, поэтому скан 3x3 соседних ячеек
// (по долготе диапазон расширяется с широтой) всегда покрывает радиус целиком.
// Потеря точности: на высоких широтах скан захватывает больше ячеек, чем нужно,
// лишние кандидаты отсекаются точным haversine-расстоянием.
type Grid struct {
	cellSizeDeg float64

	mu    sync.RWMutex
	cells map[cellKey]map[uuid.UUID]*Entry
	byID  map[uuid.UUID]cellKey

	lockMu      sync.Mutex
	regionLocks map[cellKey]*sync.Mutex
}

// NewGrid создает сетку с размером ячейки, равным радиусу кластеризации
func NewGrid(radiusMeters float64) *Grid {
	return &Grid{
		cellSizeDeg: radiusMeters / metersPerDegree,
		cells:       make(map[cellKey]map[uuid.UUID]*Entry),
		byID:        make(map[uuid.UUID]cellKey),
		regionLocks: make(map[cellKey]*sync.Mutex),
	}
}

// keyFor возвращает ключ ячейки для точки
func (g *Grid) keyFor(pt orb.Point) cellKey {
	return cellKey{
		X: int(math.Floor(pt.Lon() / g.cellSizeDeg)),
		Y: int(math.Floor(pt.Lat() / g.cellSizeDeg)),
	}
}

// regionKeys возвращает ключи ячеек, покрывающих радиус запроса вокруг точки.
// По широте достаточно соседних ячеек, по долготе диапазон растет как 1/cos(lat).
func (g *Grid) regionKeys(pt orb.Point) []cellKey {
	center := g.keyFor(pt)
	lngSpan := 1
	if cosLat := math.Cos(pt.Lat() * math.Pi / 180); cosLat > 0.01 {
		lngSpan = int(math.Ceil(1 / cosLat))
	} else {
		// Приполярные широты: долготные ячейки вырождаются
		lngSpan = 180
	}

	keys := make([]cellKey, 0, 3*(2*lngSpan+1))
	for dy := -1; dy <= 1; dy++ {
		for dx := -lngSpan; dx <= lngSpan; dx++ {
			keys = append(keys, cellKey{X: center.X + dx, Y: center.Y + dy})
		}
	}
	return keys
}

// LockRegion захватывает мьютексы всех ячеек региона запроса в детерминированном
// порядке (защита от взаимоблокировки) и возвращает функцию освобождения.
// Два отчета об одной опасности попадают в пересекающиеся регионы и сериализуются;
// отчеты из непересекающихся регионов обрабатываются параллельно.
func (g *Grid) LockRegion(lat, lng float64) func() {
	keys := g.regionKeys(orb.Point{lng, lat})
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		return keys[i].X < keys[j].X
	})

	locks := make([]*sync.Mutex, 0, len(keys))
	g.lockMu.Lock()
	for _, key := range keys {
		lock, ok := g.regionLocks[key]
		if !ok {
			lock = &sync.Mutex{}
			g.regionLocks[key] = lock
		}
		locks = append(locks, lock)
	}
	g.lockMu.Unlock()

	for _, lock := range locks {
		lock.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// Insert добавляет активный инцидент в индекс
func (g *Grid) Insert(id uuid.UUID, category models.Category, lat, lng float64, createdAt time.Time) {
	pt := orb.Point{lng, lat}
	key := g.keyFor(pt)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cells[key] == nil {
		g.cells[key] = make(map[uuid.UUID]*Entry)
	}
	g.cells[key][id] = &Entry{ID: id, Category: category, Point: pt, CreatedAt: createdAt}
	g.byID[id] = key
}

// UpdateCentroid перемещает запись после пересчета центроида
func (g *Grid) UpdateCentroid(id uuid.UUID, lat, lng float64) {
	pt := orb.Point{lng, lat}
	newKey := g.keyFor(pt)

	g.mu.Lock()
	defer g.mu.Unlock()

	oldKey, ok := g.byID[id]
	if !ok {
		return
	}
	entry, ok := g.cells[oldKey][id]
	if !ok {
		return
	}
	entry.Point = pt
	if newKey == oldKey {
		return
	}
	delete(g.cells[oldKey], id)
	if len(g.cells[oldKey]) == 0 {
		delete(g.cells, oldKey)
	}
	if g.cells[newKey] == nil {
		g.cells[newKey] = make(map[uuid.UUID]*Entry)
	}
	g.cells[newKey][id] = entry
	g.byID[id] = newKey
}

// Remove удаляет инцидент из индекса (после закрытия он не принимает новые отчеты)
func (g *Grid) Remove(id uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key, ok := g.byID[id]
	if !ok {
		return
	}
	delete(g.cells[key], id)
	if len(g.cells[key]) == 0 {
		delete(g.cells, key)
	}
	delete(g.byID, id)
}

// Len возвращает число активных инцидентов в индексе
func (g *Grid) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byID)
}

// QueryNear возвращает активные инциденты указанной категории в радиусе radiusMeters
// от точки, отсортированные по возрастанию дистанции; при равной дистанции
// раньше идет более старый инцидент (детерминированный порядок)
func (g *Grid) QueryNear(category models.Category, lat, lng float64, radiusMeters float64) []Candidate {
	pt := orb.Point{lng, lat}
	keys := g.regionKeys(pt)

	g.mu.RLock()
	candidates := make([]Candidate, 0)
	for _, key := range keys {
		for _, entry := range g.cells[key] {
			if entry.Category != category {
				continue
			}
			dist := geo.Distance(pt, entry.Point)
			if dist <= radiusMeters {
				candidates = append(candidates, Candidate{Entry: *entry, DistanceMeters: dist})
			}
		}
	}
	g.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DistanceMeters != candidates[j].DistanceMeters {
			return candidates[i].DistanceMeters < candidates[j].DistanceMeters
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return candidates
}
