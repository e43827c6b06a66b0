package proximity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/nearby/internal/core/domain"
	"github.com/samirrijal/nearby/internal/core/proximity"
)

var here = domain.Location{Lat: 43.2630, Lon: -2.9350, Accuracy: 15}

func poi(id string, lat, lon float64) domain.POI {
	return domain.POI{ID: id, Name: id, Category: domain.CategorySubway, Location: domain.GeoPoint{Lat: lat, Lon: lon}}
}

func TestRank_SortsAscending(t *testing.T) {
	pois := []domain.POI{
		poi("far", 43.2700, -2.9350),
		poi("near", 43.2632, -2.9350),
		poi("mid", 43.2650, -2.9350),
	}

	ranked, closest := proximity.Rank(pois, here)

	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"near", "mid", "far"}, ids(ranked))
	assert.Equal(t, "near", closest)
	for i := 1; i < len(ranked); i++ {
		assert.LessOrEqual(t, *ranked[i-1].Distance, *ranked[i].Distance)
	}
	assert.Equal(t, "22 m", ranked[0].DistanceLabel)
	assert.Nil(t, pois[0].Distance, "input must not be mutated")
}

func TestRank_Idempotent(t *testing.T) {
	pois := []domain.POI{
		poi("c", 43.2700, -2.9400),
		poi("a", 43.2631, -2.9351),
		poi("b", 43.2660, -2.9300),
		poi("d", 43.2500, -2.9200),
	}

	once, closest1 := proximity.Rank(pois, here)
	twice, closest2 := proximity.Rank(once, here)

	assert.Equal(t, ids(once), ids(twice))
	assert.Equal(t, closest1, closest2)
}

func TestRank_TiesKeepInputOrder(t *testing.T) {
	pois := []domain.POI{
		poi("first", 43.2640, -2.9350),
		poi("second", 43.2640, -2.9350),
		poi("third", 43.2640, -2.9350),
	}

	ranked, _ := proximity.Rank(pois, here)
	assert.Equal(t, []string{"first", "second", "third"}, ids(ranked))
}

func TestRank_ZeroDistanceHasNoClosest(t *testing.T) {
	pois := []domain.POI{
		poi("on-top", here.Lat, here.Lon),
		poi("other", 43.2650, -2.9350),
	}

	ranked, closest := proximity.Rank(pois, here)
	assert.Equal(t, "on-top", ranked[0].ID)
	assert.Equal(t, 0.0, *ranked[0].Distance)
	assert.Empty(t, closest)
}

func TestRank_TinyDistanceHasClosest(t *testing.T) {
	// About 0.1 mm north of the device.
	pois := []domain.POI{poi("almost", here.Lat+1e-9, here.Lon)}

	ranked, closest := proximity.Rank(pois, here)
	require.Greater(t, *ranked[0].Distance, 0.0)
	assert.Less(t, *ranked[0].Distance, 0.001)
	assert.Equal(t, "almost", closest)
}

func TestRank_Empty(t *testing.T) {
	ranked, closest := proximity.Rank(nil, here)
	assert.Empty(t, ranked)
	assert.Empty(t, closest)
}

func ids(pois []domain.POI) []string {
	out := make([]string, len(pois))
	for i, p := range pois {
		out[i] = p.ID
	}
	return out
}
