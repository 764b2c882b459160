// Package challenge defines the data-challenge domain shared by the stage
// invoker, the workflow controller and the renderers: the user-supplied
// settings, the difficulty table, and the validated per-phase artifacts the
// backend returns.
package challenge

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// OtherOption is the picker value that switches a field to its free-text
// companion (CustomDomain / CustomFunction).
const OtherOption = "Other"

// Difficulty is the challenge difficulty tier.
type Difficulty string

// Difficulty tiers accepted by the backend.
const (
	DifficultyEasy      Difficulty = "Easy"
	DifficultyMedium    Difficulty = "Medium"
	DifficultyDifficult Difficulty = "Difficult"
)

// String returns the string representation of the difficulty.
func (d Difficulty) String() string {
	return string(d)
}

// IsValid returns true if d is a known tier.
func (d Difficulty) IsValid() bool {
	_, ok := difficultyProfiles[d]
	return ok
}

// Difficulties lists the tiers in ascending order.
func Difficulties() []Difficulty {
	return []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyDifficult}
}

// ParseDifficulty resolves a tier name case-insensitively.
func ParseDifficulty(s string) (Difficulty, error) {
	for _, d := range Difficulties() {
		if strings.EqualFold(strings.TrimSpace(s), string(d)) {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown difficulty %q (want Easy, Medium or Difficult)", s)
}

// Profile is the fixed bundle of dataset dimensions bound to a difficulty.
type Profile struct {
	Rows      int
	Tables    int
	Columns   int
	Questions int
}

var difficultyProfiles = map[Difficulty]Profile{
	DifficultyEasy:      {Rows: 5000, Tables: 5, Columns: 15, Questions: 5},
	DifficultyMedium:    {Rows: 10000, Tables: 8, Columns: 22, Questions: 6},
	DifficultyDifficult: {Rows: 20000, Tables: 12, Columns: 30, Questions: 7},
}

// Profile returns the dimensions bound to d. Unknown tiers get the Medium
// bundle.
func (d Difficulty) Profile() Profile {
	if p, ok := difficultyProfiles[d]; ok {
		return p
	}
	return difficultyProfiles[DifficultyMedium]
}

// DataStructure is the structural style of the generated dataset.
type DataStructure string

// Structural styles accepted by the backend.
const (
	StructureNormalized   DataStructure = "Normalized"
	StructureDenormalized DataStructure = "Denormalized"
)

// ParseDataStructure resolves a structure name case-insensitively.
func ParseDataStructure(s string) (DataStructure, error) {
	for _, v := range []DataStructure{StructureNormalized, StructureDenormalized} {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown data structure %q (want Normalized or Denormalized)", s)
}

// Dataset size bounds enforced by the backend.
const (
	MinDatasetSize = 1000
	MaxDatasetSize = 1000000
)

// Settings is the configuration captured before a session exists.
type Settings struct {
	Domain         string
	CustomDomain   string
	Function       string
	CustomFunction string
	Difficulty     Difficulty
	// Context is optional free text; an empty value is replaced with a
	// generated brief when the request is built.
	Context       string
	DatasetSize   int
	DataStructure DataStructure
}

// DefaultSettings returns the documented defaults: Medium difficulty, the
// Medium row count and a normalized structure.
func DefaultSettings() Settings {
	return Settings{
		Difficulty:    DifficultyMedium,
		DatasetSize:   DifficultyMedium.Profile().Rows,
		DataStructure: StructureNormalized,
	}
}

// SetDifficulty changes the tier and overwrites the dataset size with the
// tier's row count. The tier mapping wins over any edited size.
func (s *Settings) SetDifficulty(d Difficulty) {
	s.Difficulty = d
	s.DatasetSize = d.Profile().Rows
}

// EffectiveDomain returns the domain, substituting the free-text value when
// "Other" is selected.
func (s Settings) EffectiveDomain() string {
	if s.Domain == OtherOption {
		return strings.TrimSpace(s.CustomDomain)
	}
	return strings.TrimSpace(s.Domain)
}

// EffectiveFunction returns the function, substituting the free-text value
// when "Other" is selected.
func (s Settings) EffectiveFunction() string {
	if s.Function == OtherOption {
		return strings.TrimSpace(s.CustomFunction)
	}
	return strings.TrimSpace(s.Function)
}

// Input is the request body shared by create-research and generate-problem.
type Input struct {
	Domain           string        `json:"domain" validate:"min=3,max=100"`
	Function         string        `json:"function" validate:"min=3,max=100"`
	ProblemStatement string        `json:"problem_statement" validate:"min=100,max=2000"`
	Difficulty       Difficulty    `json:"difficulty" validate:"oneof=Easy Medium Difficult"`
	DatasetSize      int           `json:"dataset_size" validate:"gte=1000,lte=1000000"`
	DataStructure    DataStructure `json:"data_structure" validate:"oneof=Normalized Denormalized"`
	PrimaryQuestions string        `json:"primary_questions"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the settings and returns a *ValidationError listing every
// failing field. No remote call should be made when it fails.
func (s Settings) Validate() error {
	_, err := s.Input()
	return err
}

// Input builds the validated backend request for these settings.
func (s Settings) Input() (Input, error) {
	in := Input{
		Domain:           s.EffectiveDomain(),
		Function:         s.EffectiveFunction(),
		ProblemStatement: strings.TrimSpace(s.Context),
		Difficulty:       s.Difficulty,
		DatasetSize:      s.DatasetSize,
		DataStructure:    s.DataStructure,
	}
	if in.ProblemStatement == "" {
		in.ProblemStatement = DefaultBrief(in.Domain, in.Function)
	}
	if err := validate.Struct(in); err != nil {
		return Input{}, newValidationError(err)
	}
	return in, nil
}

// DefaultBrief is the context sent when the user leaves it empty.
func DefaultBrief(domain, function string) string {
	return fmt.Sprintf("We need to conduct research and generate a comprehensive data challenge for the %s domain, "+
		"focusing on %s. The goal is to identify key industry trends and metrics to build a realistic dataset "+
		"for analytical testing and learning purposes.", domain, function)
}

// Domains lists the suggested business domains. The last entry is
// OtherOption.
func Domains() []string {
	return []string{
		"Fast Food Industry", "E-Commerce", "Healthcare", "Banking & Finance",
		"Real Estate", "Retail", "Tourism & Travel", "Education",
		"Logistics & Supply Chain", "Telecom", "Automobile", "Agriculture", OtherOption,
	}
}

// Functions lists the suggested business functions. The last entry is
// OtherOption.
func Functions() []string {
	return []string{
		"Sales & Marketing", "Operations", "Finance & Accounting", "Human Resources",
		"Supply Chain", "Customer Service", "Product Management",
		"Risk & Compliance", "IT & Technology", OtherOption,
	}
}
