package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/soleahealth/insights-backend/internal/logger"
	"github.com/soleahealth/insights-backend/internal/repos"
)

// FingerprintInputs is the subset of user data whose change should invalidate
// generated sections. It deliberately excludes timestamps and anything with
// unstable ordering so that hashing it is a pure function of stored data.
type FingerprintInputs struct {
	Profile struct {
		Gender            string   `json:"gender"`
		Weight            *float64 `json:"weight"`
		Height            *float64 `json:"height"`
		BodyType          string   `json:"body_type"`
		ExerciseFrequency string   `json:"exercise_frequency"`
	} `json:"profile"`
	Goals          []FingerprintGoal        `json:"goals"`
	Supplements    []FingerprintRegimenItem `json:"supplements"`
	Medications    []FingerprintRegimenItem `json:"medications"`
	RecentFoods    int                      `json:"recent_foods"`
	RecentExercise int                      `json:"recent_exercise"`
}

type FingerprintGoal struct {
	Name   string   `json:"name"`
	Rating *float64 `json:"rating"`
}

type FingerprintRegimenItem struct {
	Name   string   `json:"name"`
	Dosage string   `json:"dosage"`
	Timing []string `json:"timing"`
}

// ComputeFingerprint hashes the canonical JSON encoding of the inputs. Slices
// are sorted by name before encoding so storage ordering cannot leak in.
func ComputeFingerprint(in FingerprintInputs) string {
	sort.Slice(in.Goals, func(i, j int) bool { return in.Goals[i].Name < in.Goals[j].Name })
	sort.Slice(in.Supplements, func(i, j int) bool { return in.Supplements[i].Name < in.Supplements[j].Name })
	sort.Slice(in.Medications, func(i, j int) bool { return in.Medications[i].Name < in.Medications[j].Name })

	raw, err := json.Marshal(in)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

// Fingerprinter snapshots the current relevant user data and hashes it.
type Fingerprinter interface {
	Current(ctx context.Context, userID uuid.UUID) (string, error)
}

type fingerprinter struct {
	log      *logger.Logger
	userData repos.UserDataRepo
}

func NewFingerprinter(log *logger.Logger, userData repos.UserDataRepo) Fingerprinter {
	return &fingerprinter{
		log:      log.With("service", "Fingerprinter"),
		userData: userData,
	}
}

func (f *fingerprinter) Current(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := f.userData.GetUser(ctx, nil, userID)
	if err != nil {
		return "", fmt.Errorf("fingerprint user: %w", err)
	}
	if user == nil {
		return "", nil
	}

	var in FingerprintInputs
	in.Profile.Gender = deref(user.Gender)
	in.Profile.Weight = user.Weight
	in.Profile.Height = user.Height
	in.Profile.BodyType = deref(user.BodyType)
	in.Profile.ExerciseFrequency = deref(user.ExerciseFrequency)

	goals, err := f.userData.GetHealthGoals(ctx, nil, userID)
	if err != nil {
		return "", fmt.Errorf("fingerprint goals: %w", err)
	}
	for _, g := range goals {
		in.Goals = append(in.Goals, FingerprintGoal{Name: g.Name, Rating: g.CurrentRating})
	}

	supplements, err := f.userData.GetSupplements(ctx, nil, userID)
	if err != nil {
		return "", fmt.Errorf("fingerprint supplements: %w", err)
	}
	for _, s := range supplements {
		in.Supplements = append(in.Supplements, FingerprintRegimenItem{Name: s.Name, Dosage: s.Dosage, Timing: decodeTiming(s.Timing)})
	}

	medications, err := f.userData.GetMedications(ctx, nil, userID)
	if err != nil {
		return "", fmt.Errorf("fingerprint medications: %w", err)
	}
	for _, m := range medications {
		in.Medications = append(in.Medications, FingerprintRegimenItem{Name: m.Name, Dosage: m.Dosage, Timing: decodeTiming(m.Timing)})
	}

	weekAgo := time.Now().UTC().Add(-7 * 24 * time.Hour)
	foods, err := f.userData.GetFoodLogs(ctx, nil, userID, &weekAgo, 0)
	if err != nil {
		return "", fmt.Errorf("fingerprint food logs: %w", err)
	}
	in.RecentFoods = len(foods)

	exercise, err := f.userData.GetExerciseLogs(ctx, nil, userID, &weekAgo, 0)
	if err != nil {
		return "", fmt.Errorf("fingerprint exercise logs: %w", err)
	}
	in.RecentExercise = len(exercise)

	return ComputeFingerprint(in), nil
}
