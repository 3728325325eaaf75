package numbers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Category identifica o tipo de aposta (2 dígitos em cima/embaixo, 3 dígitos, tote)
type Category string

const (
	TwoTop    Category = "2_top"
	TwoBottom Category = "2_bottom"
	ThreeTop  Category = "3_top"
	Tote      Category = "tote"
)

// Categories na ordem canônica usada em ordenações e dashboards
var Categories = []Category{TwoTop, TwoBottom, ThreeTop, Tote}

var (
	ErrInvalidFormat   = errors.New("numbers: invalid format")
	ErrUnknownCategory = errors.New("numbers: unknown category")
)

// ParseCategory valida o nome recebido pela API
func ParseCategory(s string) (Category, error) {
	c := Category(strings.TrimSpace(s))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

func (c Category) Valid() bool {
	switch c {
	case TwoTop, TwoBottom, ThreeTop, Tote:
		return true
	}
	return false
}

// Width é a quantidade máxima de dígitos aceita pela categoria
func (c Category) Width() int {
	switch c {
	case TwoTop, TwoBottom:
		return 2
	case ThreeTop, Tote:
		return 3
	}
	return 0
}

// Label é o nome exibido nos painéis administrativos
func (c Category) Label() string {
	switch c {
	case TwoTop:
		return "2 ตัวบน"
	case TwoBottom:
		return "2 ตัวล่าง"
	case ThreeTop:
		return "3 ตัวบน"
	case Tote:
		return "โต๊ด"
	}
	return string(c)
}

func (c Category) order() int {
	for i, v := range Categories {
		if v == c {
			return i
		}
	}
	return len(Categories)
}

// Key é o número já normalizado dentro de uma categoria
type Key struct {
	Category Category `json:"category"`
	Number   string   `json:"number"`
}

func (k Key) String() string { return string(k.Category) + ":" + k.Number }

// Less ordena por categoria e depois por número
func (k Key) Less(o Key) bool {
	if k.Category != o.Category {
		return k.Category.order() < o.Category.order()
	}
	return k.Number < o.Number
}

// SortKeys ordena in-place na ordem canônica
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// Normalize converte a entrada digitada na chave da categoria.
// 2_top/2_bottom/3_top: completa com zeros à esquerda sem reordenar.
// tote: 3 dígitos são ordenados em ordem crescente; menos de 3 viram 2 dígitos.
func Normalize(raw string, c Category) (Key, error) {
	if !c.Valid() {
		return Key{}, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	d := digitsOnly(raw)
	if d == "" {
		return Key{}, fmt.Errorf("%w: %q has no digits", ErrInvalidFormat, raw)
	}
	if len(d) > c.Width() {
		return Key{}, fmt.Errorf("%w: %q has more than %d digits for %s", ErrInvalidFormat, raw, c.Width(), c)
	}

	if c == Tote {
		if len(d) < 3 {
			return Key{Category: c, Number: pad(d, 2)}, nil
		}
		return Key{Category: c, Number: sortDigits(d)}, nil
	}
	return Key{Category: c, Number: pad(d, c.Width())}, nil
}

// Expansion é uma linha gerada para bloqueio a partir de uma entrada
type Expansion struct {
	Key    Key    `json:"key"`
	Source string `json:"source"`
}

// PermutationsForBlocking expande um número bloqueado em todas as chaves afetadas.
// 2 dígitos: permutações distintas em 2_top e 2_bottom.
// 3 dígitos: permutações distintas em 3_top mais uma linha tote na forma ordenada.
func PermutationsForBlocking(raw string) ([]Expansion, error) {
	d := digitsOnly(raw)

	var out []Expansion
	switch len(d) {
	case 2:
		for _, p := range Permutations(d) {
			out = append(out,
				Expansion{Key: Key{Category: TwoTop, Number: p}, Source: d},
				Expansion{Key: Key{Category: TwoBottom, Number: p}, Source: d},
			)
		}
	case 3:
		for _, p := range Permutations(d) {
			out = append(out, Expansion{Key: Key{Category: ThreeTop, Number: p}, Source: d})
		}
		out = append(out, Expansion{Key: Key{Category: Tote, Number: sortDigits(d)}, Source: d})
	default:
		return nil, fmt.Errorf("%w: blocking input %q must have 2 or 3 digits", ErrInvalidFormat, raw)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out, nil
}

// Permutations retorna as permutações distintas dos dígitos, ordenadas
func Permutations(digits string) []string {
	b := []byte(sortDigits(digits))
	out := []string{string(b)}
	for nextPermutation(b) {
		out = append(out, string(b))
	}
	return out
}

// ToteCoverage lista as ordens de dígitos cobertas por uma chave tote
func ToteCoverage(k Key) []string {
	if k.Category != Tote || len(k.Number) != 3 {
		return []string{k.Number}
	}
	return Permutations(k.Number)
}

// SplitInputs separa uma entrada em lote (espaço, vírgula, ponto e vírgula, quebra de linha)
func SplitInputs(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';'
	})
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func pad(d string, width int) string {
	if len(d) >= width {
		return d
	}
	return strings.Repeat("0", width-len(d)) + d
}

func sortDigits(d string) string {
	b := []byte(d)
	sort.Slice(b, func(i, j int) bool { return b[i] < b[j] })
	return string(b)
}

// nextPermutation avança b para a próxima permutação lexicográfica
func nextPermutation(b []byte) bool {
	i := len(b) - 2
	for i >= 0 && b[i] >= b[i+1] {
		i--
	}
	if i < 0 {
		return false
	}
	j := len(b) - 1
	for b[j] <= b[i] {
		j--
	}
	b[i], b[j] = b[j], b[i]
	for l, r := i+1, len(b)-1; l < r; l, r = l+1, r-1 {
		b[l], b[r] = b[r], b[l]
	}
	return true
}
