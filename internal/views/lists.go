package views

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/coderaid/partysync/internal/party"
)

// CodeList is a named, ordered list of candidate codes.
type CodeList struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Source      string   `yaml:"source,omitempty"`
	Codes       []string `yaml:"codes"`
}

type codeListFile struct {
	Lists []CodeList `yaml:"lists"`
}

// BuiltinLists returns the lists shipped with the client, in default order.
func BuiltinLists() []CodeList {
	return []CodeList{
		{
			Name: "Sequential Numbers",
			Codes: []string{
				"1111", "2222", "3333", "4444", "5555", "6666", "7777", "8888", "9999", "0000",
				"1234", "4321",
			},
		},
		{
			Name:        "Random Birthyears",
			Description: "Plausible birth years, newest first.",
			Codes:       birthyears(2010, 1950),
		},
		{
			Name: "Angel Numbers",
			Codes: []string{
				"4242", "1212", "1111", "2222", "3333", "4444", "5555", "1144",
				"1133", "1122", "1919", "1818", "1010", "0101", "1211", "1717",
			},
		},
	}
}

func birthyears(from, to int) []string {
	out := make([]string, 0, from-to+1)
	for y := from; y >= to; y-- {
		out = append(out, strconv.Itoa(y))
	}
	return out
}

// LoadCodeLists reads lists from a YAML file of the form
//
//	lists:
//	  - name: Rust Tips
//	    codes: ["1234", "0000"]
func LoadCodeLists(path string) ([]CodeList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading code lists: %w", err)
	}

	var f codeListFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing code lists: %w", err)
	}

	seen := make(map[string]bool, len(f.Lists))
	for i, l := range f.Lists {
		if l.Name == "" {
			return nil, fmt.Errorf("code list %d has no name", i)
		}
		if seen[l.Name] {
			return nil, fmt.Errorf("duplicate code list %q", l.Name)
		}
		seen[l.Name] = true
	}
	return f.Lists, nil
}

// MergeLists appends extra to base, replacing base lists with the same name
// in place.
func MergeLists(base, extra []CodeList) []CodeList {
	out := append([]CodeList(nil), base...)
	index := make(map[string]int, len(out))
	for i, l := range out {
		index[l.Name] = i
	}
	for _, l := range extra {
		if i, ok := index[l.Name]; ok {
			out[i] = l
			continue
		}
		index[l.Name] = len(out)
		out = append(out, l)
	}
	return out
}

// DefaultOrder walks every list forwards in the given order.
func DefaultOrder(lists []CodeList) []party.ListEntry {
	order := make([]party.ListEntry, len(lists))
	for i, l := range lists {
		order[i] = party.ListEntry{Name: l.Name}
	}
	return order
}

// Dedupe keeps the first occurrence of each code.
func Dedupe(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
