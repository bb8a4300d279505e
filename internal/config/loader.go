package config

import (
	"fmt"
	"os"

	"fuelbot/src/nlp"

	"gopkg.in/yaml.v3"
)

// LexiconFile represents the structure of a lexicon override file
type LexiconFile struct {
	NLP struct {
		Lexicon nlp.Lexicon `yaml:"lexicon"`
	} `yaml:"nlp"`
}

// LoadLexiconFile loads a lexicon override file
func LoadLexiconFile(filepath string) (*LexiconFile, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("error reading lexicon file: %w", err)
	}

	var file LexiconFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing YAML: %w", err)
	}

	return &file, nil
}

// BuildLexicon returns the built-in lexicon with the tables from filepath laid over it.
// An empty path yields the built-in lexicon.
func BuildLexicon(filepath string) (nlp.Lexicon, error) {
	lexicon := nlp.DefaultLexicon()
	if filepath == "" {
		return lexicon, nil
	}

	file, err := LoadLexiconFile(filepath)
	if err != nil {
		return lexicon, err
	}
	return lexicon.Merge(file.NLP.Lexicon), nil
}
