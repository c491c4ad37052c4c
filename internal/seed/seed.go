// Package seed loads clue hunt activities from YAML definition files.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/cluehunt/internal/domain"
	"github.com/ashureev/cluehunt/internal/hunt"
	"github.com/ashureev/cluehunt/internal/store"
)

// File is one YAML definition file.
type File struct {
	Activities []Activity `yaml:"activities"`
}

// Activity defines an activity with its question and clues.
type Activity struct {
	Name     string `yaml:"name"`
	Intro    string `yaml:"intro"`
	MaxGrade int    `yaml:"max_grade"`
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
	Clues    []Clue `yaml:"clues"`
}

// Clue is one clue definition. Delay is relative to the previous clue.
type Clue struct {
	Text  string `yaml:"text"`
	Delay Delay  `yaml:"delay"`
}

// Delay accepts a whole number of seconds or a Go duration ("2m", "90s").
type Delay time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Delay) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: delay must be a scalar", value.Line)
	}
	s := strings.TrimSpace(value.Value)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 || n > hunt.MaxRevealDelaySeconds {
			return fmt.Errorf("line %d: delay %d out of range: %w", value.Line, n, hunt.ErrInvalidDelay)
		}
		*d = Delay(time.Duration(n) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid delay %q", value.Line, value.Value)
	}
	*d = Delay(parsed)
	return nil
}

// Seconds returns the delay in whole seconds, rounding up. Any negative
// delay maps to -1 so validation rejects it.
func (d Delay) Seconds() int64 {
	if d < 0 {
		return -1
	}
	if time.Duration(d) > hunt.MaxRevealDelay {
		return hunt.MaxRevealDelaySeconds + 1
	}
	return int64((time.Duration(d) + time.Second - 1) / time.Second)
}

// Decode reads a definition file. Unknown keys are rejected.
func Decode(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	f := &File{}
	if err := dec.Decode(f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("definition file is empty")
		}
		return nil, fmt.Errorf("decode definitions: %w", err)
	}
	for i := range f.Activities {
		if err := f.Activities[i].Validate(); err != nil {
			return nil, fmt.Errorf("activity %d: %w", i+1, err)
		}
	}
	return f, nil
}

// Load reads and decodes the definition file at path.
func Load(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Decode(fh)
}

// Validate checks an activity definition.
func (a *Activity) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(a.Question) == "" {
		return errors.New("question is required")
	}
	if hunt.NormalizeAnswer(a.Answer) == "" {
		return errors.New("answer is required")
	}
	if a.MaxGrade < 0 {
		return errors.New("max_grade cannot be negative")
	}
	if _, err := hunt.NormalizeClues(0, a.clueInputs()); err != nil {
		return err
	}
	return nil
}

func (a *Activity) clueInputs() []hunt.ClueInput {
	inputs := make([]hunt.ClueInput, len(a.Clues))
	for i, c := range a.Clues {
		inputs[i] = hunt.ClueInput{Text: c.Text, DelaySeconds: c.Delay.Seconds()}
	}
	return inputs
}

// Imported reports what Import created for one definition.
type Imported struct {
	ActivityID int64
	QuestionID int64
	Name       string
	Clues      int
}

// Import creates every activity of f in repo. Definitions are independent;
// a failure stops the import and reports the definitions already created.
func Import(ctx context.Context, repo store.Repository, f *File, now time.Time) ([]Imported, error) {
	out := make([]Imported, 0, len(f.Activities))
	for _, def := range f.Activities {
		imported, err := importOne(ctx, repo, def, now)
		if err != nil {
			return out, fmt.Errorf("import %q: %w", def.Name, err)
		}
		out = append(out, *imported)
	}
	return out, nil
}

func importOne(ctx context.Context, repo store.Repository, def Activity, now time.Time) (*Imported, error) {
	maxGrade := def.MaxGrade
	if maxGrade == 0 {
		maxGrade = domain.DefaultMaxGrade
	}
	a := &domain.Activity{
		Name:      strings.TrimSpace(def.Name),
		Intro:     strings.TrimSpace(def.Intro),
		MaxGrade:  maxGrade,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateActivity(ctx, a); err != nil {
		return nil, fmt.Errorf("create activity: %w", err)
	}

	q := &domain.Question{
		ActivityID:   a.ID,
		QuestionText: strings.TrimSpace(def.Question),
		AnswerText:   strings.TrimSpace(def.Answer),
	}
	if err := repo.SaveQuestion(ctx, q); err != nil {
		return nil, fmt.Errorf("save question: %w", err)
	}

	clues, err := hunt.NormalizeClues(q.ID, def.clueInputs())
	if err != nil {
		return nil, err
	}
	saved, err := repo.ReplaceClues(ctx, q.ID, clues)
	if err != nil {
		return nil, fmt.Errorf("save clues: %w", err)
	}

	return &Imported{ActivityID: a.ID, QuestionID: q.ID, Name: a.Name, Clues: len(saved)}, nil
}
