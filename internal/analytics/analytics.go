// Package analytics computes descriptive statistics over fertilizer readings.
package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"gorm.io/gorm"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/model"
)

const (
	defaultDays = 7
	maxDays     = 365
)

// Averages are mean nutrient values over a window. A nil field means no
// reading in the window carried that value.
type Averages struct {
	MachineID  string   `json:"machine_id,omitempty"`
	Days       int      `json:"days"`
	Samples    int64    `json:"samples"`
	Nitrogen   *float64 `json:"nitrogen"`
	Phosphorus *float64 `json:"phosphorus"`
	Potassium  *float64 `json:"potassium"`
	PH         *float64 `json:"ph"`
	Moisture   *float64 `json:"moisture"`
}

// CropProfile holds the ideal conditions of a crop.
type CropProfile struct {
	Name       string
	Nitrogen   float64
	Phosphorus float64
	Potassium  float64
	PH         float64
	Moisture   float64
}

// CropScore ranks one crop against measured averages.
type CropScore struct {
	Crop        string  `json:"crop"`
	Distance    float64 `json:"distance"`
	Suitability float64 `json:"suitability"`
}

// CropProfiles is the fixed reference table used for scoring.
var CropProfiles = []CropProfile{
	{Name: "Rice", Nitrogen: 120, Phosphorus: 40, Potassium: 40, PH: 6.0, Moisture: 70},
	{Name: "Corn", Nitrogen: 150, Phosphorus: 60, Potassium: 60, PH: 6.2, Moisture: 60},
	{Name: "Tomato", Nitrogen: 100, Phosphorus: 80, Potassium: 120, PH: 6.5, Moisture: 65},
	{Name: "Eggplant", Nitrogen: 100, Phosphorus: 60, Potassium: 80, PH: 6.0, Moisture: 60},
	{Name: "Okra", Nitrogen: 80, Phosphorus: 50, Potassium: 50, PH: 6.5, Moisture: 55},
	{Name: "Pechay", Nitrogen: 90, Phosphorus: 40, Potassium: 40, PH: 6.5, Moisture: 70},
	{Name: "Sweet Potato", Nitrogen: 60, Phosphorus: 50, Potassium: 100, PH: 5.8, Moisture: 55},
	{Name: "Peanut", Nitrogen: 30, Phosphorus: 60, Potassium: 60, PH: 6.2, Moisture: 50},
}

// Service answers analytics queries.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService creates an analytics service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func clampDays(days int) int {
	if days <= 0 {
		return defaultDays
	}
	if days > maxDays {
		return maxDays
	}
	return days
}

// NPK averages readings of the last days days, for one machine or the whole
// fleet when machineID is empty.
func (s *Service) NPK(ctx context.Context, machineID string, days int) (*Averages, error) {
	days = clampDays(days)
	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	var row struct {
		Samples    int64
		Nitrogen   *float64
		Phosphorus *float64
		Potassium  *float64
		PH         *float64
		Moisture   *float64
	}
	q := s.db.WithContext(ctx).Model(&model.FertilizerReading{}).
		Select("COUNT(*) AS samples, AVG(nitrogen) AS nitrogen, AVG(phosphorus) AS phosphorus, " +
			"AVG(potassium) AS potassium, AVG(ph) AS ph, AVG(moisture) AS moisture").
		Where("recorded_at >= ?", since)
	if machineID != "" {
		q = q.Where("machine_id = ?", machineID)
	}
	if err := q.Scan(&row).Error; err != nil {
		return nil, err
	}
	return &Averages{
		MachineID:  machineID,
		Days:       days,
		Samples:    row.Samples,
		Nitrogen:   round2p(row.Nitrogen),
		Phosphorus: round2p(row.Phosphorus),
		Potassium:  round2p(row.Potassium),
		PH:         round2p(row.PH),
		Moisture:   round2p(row.Moisture),
	}, nil
}

// Crops scores every crop profile against the averages of a machine,
// closest first.
func (s *Service) Crops(ctx context.Context, machineID string, days int) ([]CropScore, error) {
	avg, err := s.NPK(ctx, machineID, days)
	if err != nil {
		return nil, err
	}
	if avg.Samples == 0 {
		return nil, apperr.NotFound("No readings in the selected window")
	}
	return ScoreCrops(avg, CropProfiles), nil
}

// ScoreCrops computes the Euclidean distance from avg to each profile over
// the dimensions avg has values for. Suitability is 100 / (1 + distance/10).
func ScoreCrops(avg *Averages, profiles []CropProfile) []CropScore {
	scores := make([]CropScore, 0, len(profiles))
	for _, p := range profiles {
		var sum float64
		add := func(measured *float64, ideal float64) {
			if measured != nil {
				d := *measured - ideal
				sum += d * d
			}
		}
		add(avg.Nitrogen, p.Nitrogen)
		add(avg.Phosphorus, p.Phosphorus)
		add(avg.Potassium, p.Potassium)
		add(avg.PH, p.PH)
		add(avg.Moisture, p.Moisture)

		distance := math.Sqrt(sum)
		scores = append(scores, CropScore{
			Crop:        p.Name,
			Distance:    round2(distance),
			Suitability: round2(100 / (1 + distance/10)),
		})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Distance < scores[j].Distance })
	return scores
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round2p(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := round2(*v)
	return &r
}
