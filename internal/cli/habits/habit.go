package habits

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/julianstephens/habitgarden/internal/cli"
	"github.com/julianstephens/habitgarden/internal/models"
	"github.com/julianstephens/habitgarden/internal/utils"
)

type HabitAddCmd struct {
	Title       string `arg:"" help:"Habit title."`
	Description string `help:"Optional description." short:"d"`
	Frequency   string `help:"daily, weekly or monthly." default:"daily" enum:"daily,weekly,monthly"`
	Plant       string `help:"Companion plant." default:"fern" enum:"fern,cactus,sunflower,bonsai,succulent"`
}

func (c *HabitAddCmd) Run(ctx *cli.Context) error {
	bg := context.Background()
	sess, err := ctx.Open(bg)
	if err != nil {
		return err
	}
	defer sess.Close()

	rec, err := sess.Service.AddHabit(bg, models.HabitInput{
		Title:       c.Title,
		Description: c.Description,
		Frequency:   models.Frequency(c.Frequency),
		Plant:       models.Plant(c.Plant),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Added habit: %s (%s)\n", rec.Habit.Title, shortID(rec.Habit.ID))
	return nil
}

type HabitListCmd struct {
	IDs bool `help:"Show full habit ids."`
}

func (c *HabitListCmd) Run(ctx *cli.Context) error {
	bg := context.Background()
	sess, err := ctx.Open(bg)
	if err != nil {
		return err
	}
	defer sess.Close()

	records := sess.Service.ListHabits()
	if len(records) == 0 {
		fmt.Println("No habits found.")
		return nil
	}

	today := todayFor(sess)
	for _, r := range records {
		id := shortID(r.Habit.ID)
		if c.IDs {
			id = r.Habit.ID
		}
		mark := " "
		if r.Completions.Contains(today.String()) {
			mark = "x"
		}
		fmt.Printf("[%s] %s  %s (%s, %s)  streak %d, best %d\n",
			mark, id, r.Habit.Title, r.Habit.Frequency, r.Habit.Plant, r.CurrentStreak, r.LongestStreak)
		if r.Habit.Description != "" {
			fmt.Printf("      %s\n", r.Habit.Description)
		}
	}
	return nil
}

type HabitEditCmd struct {
	Habit       string  `arg:"" help:"Habit id, id prefix or title."`
	Title       *string `help:"New title."`
	Description *string `help:"New description."`
	Frequency   *string `help:"New frequency (daily, weekly or monthly)."`
	Plant       *string `help:"New companion plant (fern, cactus, sunflower, bonsai or succulent)."`
}

func (c *HabitEditCmd) Run(ctx *cli.Context) error {
	if c.Title == nil && c.Description == nil && c.Frequency == nil && c.Plant == nil {
		return fmt.Errorf("nothing to change: pass at least one of --title, --description, --frequency or --plant")
	}

	bg := context.Background()
	sess, err := ctx.Open(bg)
	if err != nil {
		return err
	}
	defer sess.Close()

	target, err := resolve(sess.Service.ListHabits(), c.Habit)
	if err != nil {
		return err
	}

	patch := models.HabitPatch{Title: c.Title, Description: c.Description}
	if c.Frequency != nil {
		f := models.Frequency(*c.Frequency)
		patch.Frequency = &f
	}
	if c.Plant != nil {
		p := models.Plant(*c.Plant)
		patch.Plant = &p
	}

	rec, err := sess.Service.UpdateHabit(bg, target.Habit.ID, patch)
	if err != nil {
		return err
	}
	fmt.Printf("Updated habit: %s\n", rec.Habit.Title)
	return nil
}

type HabitDeleteCmd struct {
	Habit string `arg:"" help:"Habit id, id prefix or title."`
}

func (c *HabitDeleteCmd) Run(ctx *cli.Context) error {
	bg := context.Background()
	sess, err := ctx.Open(bg)
	if err != nil {
		return err
	}
	defer sess.Close()

	target, err := resolve(sess.Service.ListHabits(), c.Habit)
	if err != nil {
		return err
	}
	if err := sess.Service.DeleteHabit(bg, target.Habit.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted habit: %s\n", target.Habit.Title)
	return nil
}

type HabitToggleCmd struct {
	Habit string `arg:"" help:"Habit id, id prefix or title."`
}

func (c *HabitToggleCmd) Run(ctx *cli.Context) error {
	bg := context.Background()
	sess, err := ctx.Open(bg)
	if err != nil {
		return err
	}
	defer sess.Close()

	target, err := resolve(sess.Service.ListHabits(), c.Habit)
	if err != nil {
		return err
	}
	rec, err := sess.Service.ToggleCompletion(bg, target.Habit.ID)
	if err != nil {
		return err
	}

	state := "not done"
	if rec.Completions.Contains(todayFor(sess).String()) {
		state = "done"
	}
	fmt.Printf("%s: %s today (streak %d)\n", rec.Habit.Title, state, rec.CurrentStreak)

	if st := sess.Service.Status(); st.Pending > 0 {
		fmt.Printf("  %d change(s) queued until the remote store is reachable\n", st.Pending)
	}
	return nil
}

type HabitLogCmd struct {
	Days  int    `help:"Number of days to show." default:"14"`
	Habit string `help:"Show log for specific habit only."`
}

func (c *HabitLogCmd) Run(ctx *cli.Context) error {
	if c.Days < 1 {
		return fmt.Errorf("--days must be at least 1")
	}

	bg := context.Background()
	sess, err := ctx.Open(bg)
	if err != nil {
		return err
	}
	defer sess.Close()

	records := sess.Service.ListHabits()
	if c.Habit != "" {
		r, err := resolve(records, c.Habit)
		if err != nil {
			return err
		}
		records = []models.HabitRecord{r}
	}
	if len(records) == 0 {
		fmt.Println("No habits found.")
		return nil
	}

	fmt.Printf("Habit log (last %d days):\n\n", c.Days)
	fmt.Print(renderLog(records, todayFor(sess), c.Days))
	return nil
}

const logNameWidth = 20

// renderLog draws one row per habit and one column per day ending today
func renderLog(records []models.HabitRecord, today utils.CalendarDay, days int) string {
	start := today.AddDays(-(days - 1))

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-*s", logNameWidth, "Habit"))
	for i := 0; i < days; i++ {
		d := start.AddDays(i)
		b.WriteString(fmt.Sprintf(" %02d/%02d", int(d.Month), d.Day))
	}
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", logNameWidth+6*days))
	b.WriteString("\n")

	for _, r := range records {
		name := r.Habit.Title
		if len([]rune(name)) > logNameWidth {
			name = string([]rune(name)[:logNameWidth-3]) + "..."
		}
		b.WriteString(fmt.Sprintf("%-*s", logNameWidth, name))
		for i := 0; i < days; i++ {
			cell := "."
			if r.Completions.Contains(start.AddDays(i).String()) {
				cell = "#"
			}
			b.WriteString(fmt.Sprintf(" %5s", cell))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func todayFor(sess *cli.Session) utils.CalendarDay {
	loc, err := sess.Config.Location()
	if err != nil {
		loc = time.Local
	}
	return utils.Today(time.Now(), loc)
}
