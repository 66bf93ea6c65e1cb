package game

import "strings"

// Persona identifies a selectable historical figure.
type Persona string

// Attributes holds the attack power for each class, 1..10.
type Attributes struct {
	Wit       uint8 `json:"wit"`
	Brutality uint8 `json:"brutality"`
	Strategy  uint8 `json:"strategy"`
	Mockery   uint8 `json:"mockery"`
}

// Power returns the attribute backing the given attack class.
func (a Attributes) Power(c AttackClass) uint8 {
	switch c {
	case Witty:
		return a.Wit
	case Brutal:
		return a.Brutality
	case Strategic:
		return a.Strategy
	case Mocking:
		return a.Mockery
	default:
		return 0
	}
}

type Profile struct {
	Persona     Persona    `json:"name"`
	DisplayName string     `json:"display_name"`
	Attributes  Attributes `json:"attributes"`
}

var catalog = []Profile{
	{"JuliusCaesar", "Julius Caesar", Attributes{5, 6, 6, 3}},
	{"WilliamShakespeare", "William Shakespeare", Attributes{9, 2, 5, 4}},
	{"GenghisKhan", "Genghis Khan", Attributes{2, 10, 6, 2}},
	{"NapoleonBonaparte", "Napoleon Bonaparte", Attributes{4, 4, 9, 3}},
	{"MarkTwain", "Mark Twain", Attributes{10, 1, 4, 5}},
	{"SunTzu", "Sun Tzu", Attributes{5, 2, 10, 3}},
	{"Socrates", "Socrates", Attributes{8, 1, 6, 5}},
	{"WinstonChurchill", "Winston Churchill", Attributes{6, 3, 5, 6}},
	{"MarieAntoinette", "Marie Antoinette", Attributes{3, 4, 4, 9}},
	{"LeonardoDaVinci", "Leonardo da Vinci", Attributes{6, 2, 9, 3}},
	{"OscarWilde", "Oscar Wilde", Attributes{9, 1, 5, 5}},
	{"AttilaTheHun", "Attila the Hun", Attributes{1, 10, 5, 4}},
	{"TheodoreRoosevelt", "Theodore Roosevelt", Attributes{4, 8, 5, 3}},
	{"BenjaminFranklin", "Benjamin Franklin", Attributes{7, 2, 7, 4}},
	{"HannibalBarca", "Hannibal Barca", Attributes{3, 5, 10, 2}},
	{"Confucius", "Confucius", Attributes{9, 1, 6, 4}},
	{"VladTheImpaler", "Vlad the Impaler", Attributes{2, 9, 5, 4}},
	{"NiccoloMachiavelli", "Niccolò Machiavelli", Attributes{5, 2, 9, 4}},
	{"KarlMarx", "Karl Marx", Attributes{6, 3, 6, 5}},
	{"FriedrichNietzsche", "Friedrich Nietzsche", Attributes{5, 4, 5, 6}},
	{"JoanOfArc", "Joan of Arc", Attributes{4, 7, 5, 4}},
	{"AndrewJackson", "Andrew Jackson", Attributes{3, 9, 4, 4}},
	{"OttoVonBismarck", "Otto von Bismarck", Attributes{4, 5, 8, 3}},
	{"SalvadorDali", "Salvador Dalí", Attributes{7, 2, 4, 7}},
	{"HarrietTubman", "Harriet Tubman", Attributes{4, 6, 7, 3}},
	{"NelsonMandela", "Nelson Mandela", Attributes{6, 3, 7, 4}},
	{"JohnFKennedy", "John F. Kennedy", Attributes{6, 4, 6, 4}},
	{"MartinLutherKingJr", "Martin Luther King Jr.", Attributes{8, 2, 6, 4}},
	{"MalcolmX", "Malcolm X", Attributes{7, 4, 5, 4}},
	{"FrederickDouglass", "Frederick Douglass", Attributes{7, 3, 6, 4}},
}

var catalogIndex = func() map[Persona]int {
	idx := make(map[Persona]int, len(catalog))
	for i, p := range catalog {
		idx[p.Persona] = i
	}
	return idx
}()

// Profiles returns the full persona catalog in a fixed order.
func Profiles() []Profile {
	return append([]Profile(nil), catalog...)
}

// LookupPersona returns the profile for a persona id.
func LookupPersona(p Persona) (Profile, bool) {
	i, ok := catalogIndex[p]
	if !ok {
		return Profile{}, false
	}
	return catalog[i], true
}

// ParsePersona resolves a persona id, tolerating surrounding whitespace.
func ParsePersona(s string) (Persona, error) {
	p := Persona(strings.TrimSpace(s))
	if _, ok := catalogIndex[p]; !ok {
		return "", ErrUnknownPersona
	}
	return p, nil
}
