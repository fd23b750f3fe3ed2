package geoindex

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicpulse/hazard_reporting_engine/internal/models"
)

const testRadiusMeters = 150.0

func TestQueryNear_FindsIncidentWithinRadius(t *testing.T) {
	// Подготовка
	grid := NewGrid(testRadiusMeters)
	id := uuid.New()
	// Примерно 50 метров восточнее исходной точки
	grid.Insert(id, models.CategoryPothole, 55.75, 37.61, time.Now())

	// Действие
	candidates := grid.QueryNear(models.CategoryPothole, 55.75, 37.6108, testRadiusMeters)

	// Проверки
	require.Len(t, candidates, 1)
	assert.Equal(t, id, candidates[0].ID)
	assert.Less(t, candidates[0].DistanceMeters, testRadiusMeters)
}

func TestQueryNear_IgnoresIncidentBeyondRadius(t *testing.T) {
	// Подготовка
	grid := NewGrid(testRadiusMeters)
	// Примерно 300 метров восточнее точки запроса
	grid.Insert(uuid.New(), models.CategoryPothole, 55.75, 37.6148, time.Now())

	// Действие
	candidates := grid.QueryNear(models.CategoryPothole, 55.75, 37.61, testRadiusMeters)

	// Проверки
	assert.Empty(t, candidates)
}

func TestQueryNear_FiltersByCategory(t *testing.T) {
	// Подготовка: две разные опасности в одной точке
	grid := NewGrid(testRadiusMeters)
	potholeID := uuid.New()
	grid.Insert(potholeID, models.CategoryPothole, 55.75, 37.61, time.Now())
	grid.Insert(uuid.New(), models.CategoryGarbage, 55.75, 37.61, time.Now())

	// Действие
	candidates := grid.QueryNear(models.CategoryPothole, 55.75, 37.61, testRadiusMeters)

	// Проверки
	require.Len(t, candidates, 1)
	assert.Equal(t, potholeID, candidates[0].ID)
}

func TestQueryNear_SortsByDistanceThenAge(t *testing.T) {
	// Подготовка
	grid := NewGrid(testRadiusMeters)
	now := time.Now()
	farID := uuid.New()
	nearID := uuid.New()
	oldID := uuid.New()
	youngID := uuid.New()
	// ~100 метров и ~30 метров от точки запроса
	grid.Insert(farID, models.CategoryPothole, 55.75, 37.6116, now)
	grid.Insert(nearID, models.CategoryPothole, 55.75, 37.6105, now)
	// Одинаковая точка, разный возраст
	grid.Insert(youngID, models.CategoryPothole, 55.75, 37.61, now)
	grid.Insert(oldID, models.CategoryPothole, 55.75, 37.61, now.Add(-time.Hour))

	// Действие
	candidates := grid.QueryNear(models.CategoryPothole, 55.75, 37.61, testRadiusMeters)

	// Проверки: нулевая дистанция впереди, старший из равных раньше
	require.Len(t, candidates, 4)
	assert.Equal(t, oldID, candidates[0].ID)
	assert.Equal(t, youngID, candidates[1].ID)
	assert.Equal(t, nearID, candidates[2].ID)
	assert.Equal(t, farID, candidates[3].ID)
}

func TestUpdateCentroid_MovesEntry(t *testing.T) {
	// Подготовка
	grid := NewGrid(testRadiusMeters)
	id := uuid.New()
	grid.Insert(id, models.CategoryGarbage, 55.75, 37.61, time.Now())

	// Действие: центроид уезжает примерно на 550 метров (в другую ячейку)
	grid.UpdateCentroid(id, 55.755, 37.61)

	// Проверки: старая точка больше не находит запись, новая - находит
	assert.Empty(t, grid.QueryNear(models.CategoryGarbage, 55.75, 37.61, testRadiusMeters))
	found := grid.QueryNear(models.CategoryGarbage, 55.755, 37.61, testRadiusMeters)
	require.Len(t, found, 1)
	assert.Equal(t, id, found[0].ID)
}

func TestRemove_EvictsEntry(t *testing.T) {
	// Подготовка
	grid := NewGrid(testRadiusMeters)
	id := uuid.New()
	grid.Insert(id, models.CategoryWaterLeak, 55.75, 37.61, time.Now())
	require.Equal(t, 1, grid.Len())

	// Действие
	grid.Remove(id)

	// Проверки
	assert.Equal(t, 0, grid.Len())
	assert.Empty(t, grid.QueryNear(models.CategoryWaterLeak, 55.75, 37.61, testRadiusMeters))

	// Повторное удаление безопасно
	grid.Remove(id)
	assert.Equal(t, 0, grid.Len())
}

func TestLockRegion_SerializesOverlappingRegions(t *testing.T) {
	// Подготовка
	grid := NewGrid(testRadiusMeters)
	counter := 0
	var wg sync.WaitGroup

	// Действие: 50 горутин соревнуются за одну точку
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := grid.LockRegion(55.75, 37.61)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	// Проверки: блокировка региона сериализует все инкременты
	assert.Equal(t, 50, counter)
}

func TestLockRegion_NoDeadlockOnAdjacentRegions(t *testing.T) {
	// Подготовка: соседние точки захватывают пересекающиеся наборы ячеек
	grid := NewGrid(testRadiusMeters)
	var wg sync.WaitGroup
	points := [][2]float64{
		{55.75, 37.61},
		{55.7505, 37.6105},
		{55.751, 37.611},
	}

	// Действие: перекрестный захват в цикле не должен зависнуть
	for i := 0; i < 20; i++ {
		for _, p := range points {
			wg.Add(1)
			go func(lat, lng float64) {
				defer wg.Done()
				unlock := grid.LockRegion(lat, lng)
				unlock()
			}(p[0], p[1])
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	// Проверки
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock region deadlocked on overlapping regions")
	}
}

func TestQueryNear_HighLatitude(t *testing.T) {
	// Подготовка: на 70-й широте градус долготы короче почти втрое
	grid := NewGrid(testRadiusMeters)
	id := uuid.New()
	grid.Insert(id, models.CategoryStreetLight, 70.0, 25.0, time.Now())

	// Действие: ~100 метров восточнее (долгота сдвинута с учетом cos(70))
	candidates := grid.QueryNear(models.CategoryStreetLight, 70.0, 25.0026, testRadiusMeters)

	// Проверки: расширенный долготный скан находит запись
	require.Len(t, candidates, 1)
	assert.Equal(t, id, candidates[0].ID)
}
