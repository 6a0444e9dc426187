package e2e

import (
	"fmt"
	"strings"
)

// CorpusDocument is a multi-page document of the E2E corpus.
type CorpusDocument struct {
	ID    string
	Title string
	Pages []string
}

// QuestionCase is a question about one document whose answer lies on a known page.
type QuestionCase struct {
	DocID string
	// Question is asked as-is; History, when set, precedes it.
	Question string
	History  []string
	// Page is the 1-based page holding the answer; Expect must appear in the answer.
	Page   int
	Expect string
}

// Corpus holds documents and the questions asked about them.
type Corpus struct {
	Documents []CorpusDocument
	Questions []QuestionCase
}

type fact struct {
	text     string
	question string
	expect   string
}

var handbooks = []struct {
	title string
	facts [3]fact
}{
	{"Lighthouse Keeping Manual", [3]fact{
		{"The lamp at Cape Orrin is polished every Tuesday by the night keeper.", "When is the lamp at Cape Orrin polished?", "Tuesday"},
		{"Fog horns sound twice per minute whenever visibility drops below one nautical mile.", "How often do fog horns sound in low visibility?", "twice"},
		{"Spare mantles are stored inside the brass cabinet beside the oil room.", "Where are spare mantles stored?", "brass cabinet"},
	}},
	{"Orchard Operations Guide", [3]fact{
		{"Pear trees in the north orchard are pruned during late February.", "When are pear trees in the north orchard pruned?", "February"},
		{"Beehives are rented from the Halvorsen apiary each spring for pollination.", "Which apiary rents the beehives for pollination?", "Halvorsen"},
		{"Harvested cider apples rest in the cold barn for exactly nine days before pressing.", "How long do cider apples rest before pressing?", "nine days"},
	}},
	{"Observatory Procedures", [3]fact{
		{"The dome shutter motor is lubricated with silicone grease every quarter.", "What lubricates the dome shutter motor?", "silicone grease"},
		{"Telescope mirrors are realuminized by the Kestrel optics workshop every decade.", "Which workshop realuminizes telescope mirrors?", "Kestrel"},
		{"Visitors may view Saturn through the refractor on clear Friday evenings.", "When can visitors view Saturn through the refractor?", "Friday"},
	}},
	{"Bakery Handbook", [3]fact{
		{"Sourdough starter is fed with rye flour at six every morning.", "What flour feeds the sourdough starter?", "rye"},
		{"Croissant dough rests overnight in the walk-in chiller at four degrees.", "Where does croissant dough rest overnight?", "walk-in chiller"},
		{"Delivery vans leave the loading dock at half past five.", "When do delivery vans leave the loading dock?", "half past five"},
	}},
	{"Museum Conservation Notes", [3]fact{
		{"Tapestries hang in gallery seven where humidity stays near fifty percent.", "Which gallery holds the tapestries?", "gallery seven"},
		{"Bronze statues are waxed with microcrystalline wax after dusting.", "What wax is used on bronze statues?", "microcrystalline"},
		{"Loaned manuscripts travel in climate crates escorted by a registrar.", "Who escorts loaned manuscripts?", "registrar"},
	}},
	{"Railway Signal Maintenance", [3]fact{
		{"Semaphore arms on the branch line are repainted crimson every three years.", "What color are semaphore arms repainted?", "crimson"},
		{"Track circuits are tested with a shunt bar of copper during inspections.", "What tests track circuits during inspections?", "shunt bar"},
		{"Signal lamps at Ashworth junction use amber lenses made in Leeds.", "Where are the amber lenses at Ashworth junction made?", "Leeds"},
	}},
	{"Greenhouse Climate Plan", [3]fact{
		{"Orchids occupy the eastern bench under shade cloth rated forty percent.", "Which bench do orchids occupy?", "eastern bench"},
		{"Misting nozzles run for ninety seconds whenever leaf temperature exceeds thirty degrees.", "How long do misting nozzles run?", "ninety seconds"},
		{"Ladybirds are released weekly to control aphids on the tomato vines.", "What controls aphids on the tomato vines?", "Ladybirds"},
	}},
	{"Harbor Pilot Briefing", [3]fact{
		{"Tankers enter the harbor only on the flood tide with two tugboats.", "When do tankers enter the harbor?", "flood tide"},
		{"The pilot boat Marigold departs from pier eleven.", "Which pier does the pilot boat Marigold depart from?", "eleven"},
		{"Anchorage Delta is reserved for vessels awaiting customs clearance.", "Which anchorage is reserved for customs clearance?", "Delta"},
	}},
	{"Library Archive Rules", [3]fact{
		{"Rare folios are handled with nitrile gloves in the Whitcombe reading room.", "Which reading room is used for rare folios?", "Whitcombe"},
		{"Microfilm readers are booked through the circulation desk for two hour slots.", "How long are microfilm reader slots?", "two hour"},
		{"Map drawers are locked each evening by the senior archivist.", "Who locks the map drawers?", "senior archivist"},
	}},
	{"Vineyard Cellar Log", [3]fact{
		{"Pinot barrels are toasted medium and sourced from Burgundy coopers.", "Where are pinot barrels sourced from?", "Burgundy"},
		{"Racking happens under a waning moon according to cellar tradition.", "When does racking happen?", "waning moon"},
		{"Bottled riesling ages for eighteen months in the lower vault.", "How long does bottled riesling age?", "eighteen months"},
	}},
	{"Mountain Hut Guide", [3]fact{
		{"The Gerlach hut stocks firewood for twelve guests during winter.", "How many guests does the Gerlach hut stock firewood for?", "twelve"},
		{"Avalanche beacons are checked at the trailhead kiosk before departure.", "Where are avalanche beacons checked?", "trailhead kiosk"},
		{"Rescue helicopters land on the granite pad south of the ridge.", "Where do rescue helicopters land?", "granite pad"},
	}},
	{"Clockmaker Workshop Notes", [3]fact{
		{"Pendulum rods are cut from invar to resist thermal expansion.", "What are pendulum rods cut from?", "invar"},
		{"Escapement pallets are jeweled with synthetic ruby.", "What jewels the escapement pallets?", "ruby"},
		{"Tower clock winding is scheduled on the first Monday of each month.", "When is tower clock winding scheduled?", "Monday"},
	}},
}

// BuildCorpus returns one three-page document per handbook with a question per page, plus a
// follow-up question per document that only resolves with history.
func BuildCorpus() *Corpus {
	c := &Corpus{}
	for i, h := range handbooks {
		doc := CorpusDocument{ID: fmt.Sprintf("e2e-doc-%02d", i+1), Title: h.title}
		for page, f := range h.facts {
			doc.Pages = append(doc.Pages, h.title+". "+f.text)
			c.Questions = append(c.Questions, QuestionCase{
				DocID:    doc.ID,
				Question: f.question,
				Page:     page + 1,
				Expect:   f.expect,
			})
		}
		last := h.facts[2]
		c.Questions = append(c.Questions, QuestionCase{
			DocID:    doc.ID,
			History:  []string{last.question, last.text},
			Question: "Can you repeat that?",
			Page:     3,
			Expect:   last.expect,
		})
		c.Documents = append(c.Documents, doc)
	}
	return c
}

// Extension returns the file format used for the i-th corpus document.
func Extension(i int) string {
	return SupportedFileExtensions[i%len(SupportedFileExtensions)]
}

// Document returns the corpus document with id, or false.
func (c *Corpus) Document(id string) (CorpusDocument, bool) {
	for _, d := range c.Documents {
		if d.ID == id {
			return d, true
		}
	}
	return CorpusDocument{}, false
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
