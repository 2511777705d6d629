package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// csvColumns are the recognised header names. id, name and type are required.
var csvColumns = []string{
	"id", "name", "faction", "type", "cost", "attack", "health", "range",
	"abilities", "spell_effect", "spell_amount", "spell_duration",
}

// LoadCSV reads a card pool from CSV. The first row is a header naming the
// columns in any order; abilities are separated by ';'.
func LoadCSV(r io.Reader) (*Cards, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("card csv is empty")
		}
		return nil, fmt.Errorf("read card csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"id", "name", "type"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("card csv header is missing %q", required)
		}
	}
	for name := range index {
		if !knownColumn(name) {
			return nil, fmt.Errorf("card csv has unknown column %q", name)
		}
	}

	var defs []CardDefinition
	seen := make(map[string]bool)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read card csv: %w", err)
		}
		line, _ := reader.FieldPos(0)
		row := csvRow{record: record, index: index}
		def, err := row.definition()
		if err != nil {
			return nil, fmt.Errorf("card csv line %d: %w", line, err)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("card csv line %d: duplicate card id %q", line, def.ID)
		}
		seen[def.ID] = true
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, errors.New("card csv has no cards")
	}
	return NewCards(defs...), nil
}

func knownColumn(name string) bool {
	for _, c := range csvColumns {
		if c == name {
			return true
		}
	}
	return false
}

type csvRow struct {
	record []string
	index  map[string]int
}

func (r csvRow) str(column string) string {
	i, ok := r.index[column]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

func (r csvRow) int(column string) (int, error) {
	v := r.str(column)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", column, v)
	}
	return n, nil
}

func (r csvRow) definition() (CardDefinition, error) {
	def := CardDefinition{
		ID:      r.str("id"),
		Name:    r.str("name"),
		Faction: Faction(r.str("faction")),
		Type:    CardType(r.str("type")),
	}
	if def.ID == "" || def.Name == "" {
		return def, errors.New("id and name are required")
	}
	if def.Faction != "" && !def.Faction.Valid() {
		return def, fmt.Errorf("unknown faction %q", def.Faction)
	}

	var err error
	if def.Cost, err = r.int("cost"); err != nil {
		return def, err
	}
	if abilities := r.str("abilities"); abilities != "" {
		for _, a := range strings.Split(abilities, ";") {
			if a = strings.TrimSpace(a); a != "" {
				def.Abilities = append(def.Abilities, a)
			}
		}
	}

	switch def.Type {
	case CardTypeUnit:
		if def.Attack, err = r.int("attack"); err != nil {
			return def, err
		}
		if def.Health, err = r.int("health"); err != nil {
			return def, err
		}
		if def.Range, err = r.int("range"); err != nil {
			return def, err
		}
		if def.Health == 0 {
			return def, errors.New("unit health must be positive")
		}
		if def.Range == 0 {
			def.Range = 1
		}
	case CardTypeSpell:
		spell := SpellDefinition{Effect: SpellEffect(r.str("spell_effect"))}
		switch spell.Effect {
		case SpellDamage, SpellHeal, SpellEmpower:
		default:
			return def, fmt.Errorf("unknown spell effect %q", spell.Effect)
		}
		if spell.Amount, err = r.int("spell_amount"); err != nil {
			return def, err
		}
		if spell.Duration, err = r.int("spell_duration"); err != nil {
			return def, err
		}
		if spell.Effect == SpellEmpower && spell.Duration == 0 {
			return def, errors.New("empower spells need a duration")
		}
		def.Spell = &spell
	default:
		return def, fmt.Errorf("unknown card type %q", def.Type)
	}
	return def, nil
}
