package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/julianstephens/habitgarden/internal/constants"
	"github.com/julianstephens/habitgarden/internal/models"
)

type HabitFormModel struct {
	Title       string
	Description string
	Frequency   models.Frequency
	Plant       models.Plant
}

func (fm HabitFormModel) Input() models.HabitInput {
	return models.HabitInput{
		Title:       fm.Title,
		Description: fm.Description,
		Frequency:   fm.Frequency,
		Plant:       fm.Plant,
	}
}

// NewHabitForm builds the add-habit form bound to fm
func NewHabitForm(fm *HabitFormModel) *huh.Form {
	if fm.Frequency == "" {
		fm.Frequency = models.Frequency(constants.DefaultFrequency)
	}
	if fm.Plant == "" {
		fm.Plant = models.Plant(constants.DefaultPlant)
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Habit").
				Value(&fm.Title).
				Validate(func(s string) error {
					s = strings.TrimSpace(s)
					if s == "" {
						return fmt.Errorf("title cannot be empty")
					}
					if len([]rune(s)) > constants.MaxTitleLength {
						return fmt.Errorf("title must be at most %d characters", constants.MaxTitleLength)
					}
					return nil
				}),
			huh.NewInput().
				Title("Description").
				Value(&fm.Description),
			huh.NewSelect[models.Frequency]().
				Title("Frequency").
				Options(
					huh.NewOption("Daily", models.FrequencyDaily),
					huh.NewOption("Weekly", models.FrequencyWeekly),
					huh.NewOption("Monthly", models.FrequencyMonthly),
				).
				Value(&fm.Frequency),
			huh.NewSelect[models.Plant]().
				Title("Companion plant").
				Options(
					huh.NewOption("Fern", models.PlantFern),
					huh.NewOption("Cactus", models.PlantCactus),
					huh.NewOption("Sunflower", models.PlantSunflower),
					huh.NewOption("Bonsai", models.PlantBonsai),
					huh.NewOption("Succulent", models.PlantSucculent),
				).
				Value(&fm.Plant),
		),
	).WithTheme(huh.ThemeDracula())
}
