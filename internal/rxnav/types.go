package rxnav

// RXCUI status values accepted by the history status endpoint. The values are
// the service's own query tokens, including the encoded space.
const (
	StatusActive      = "ACTIVE"
	StatusRetired     = "RETIRED"
	StatusNeverActive = "NEVER%20ACTIVE"
	StatusNonRxnorm   = "NON-RXNORM"
)

// Category groups term types into the two shapes the tree cares about.
type Category int

const (
	CategoryOther Category = iota
	CategoryIngredient
	CategoryDrug
)

// CategoryForTTY maps a term type to its category: IN/MIN/PIN are ingredients,
// SCD/SBD/GPCK/BPCK are orderable drugs, everything else is other.
func CategoryForTTY(tty string) Category {
	switch tty {
	case "IN", "MIN", "PIN":
		return CategoryIngredient
	case "SCD", "SBD", "GPCK", "BPCK":
		return CategoryDrug
	default:
		return CategoryOther
	}
}

// HistoryConcept is the history record for one RXCUI: its current or last
// known attributes plus the remap target when the code was replaced.
type HistoryConcept struct {
	Rxcui        int
	Name         string
	TTY          string
	Status       string
	StartDate    string
	EndDate      string
	IsCurrent    bool
	CurrentRxcui int // remap target; 0 when the service reports none
	SCDRxcui     int // generic counterpart for branded concepts; 0 when none
	Bosses       []Boss
}

// Boss is one basis-of-strength substance from a history record. BaseRxcui
// names the plain ingredient, Rxcui the precise (salt-form) ingredient.
type Boss struct {
	Rxcui     int
	Name      string
	BaseRxcui int
	BaseName  string
}

// RelatedConcept is one entry from the allrelated result.
type RelatedConcept struct {
	Rxcui int
	Name  string
	TTY   string
}

// ClassTreeItem is one node of a classification tree, children included.
type ClassTreeItem struct {
	ClassID   string
	ClassName string
	ClassType string
	Children  []ClassTreeItem
}

// Wire shapes, matching the service's JSON exactly. All leaf values arrive as
// strings; conversion to ints happens in the client.

type statusEnvelope struct {
	RxcuiList struct {
		Rxcuis []string `json:"rxcuis"`
	} `json:"rxcuiList"`
}

type historyEnvelope struct {
	RxcuiHistoryConcept struct {
		RxcuiConcept *struct {
			Status       string `json:"status"`
			Rxcui        string `json:"rxcui"`
			TTY          string `json:"tty"`
			Str          string `json:"str"`
			StartDate    string `json:"startDate"`
			EndDate      string `json:"endDate"`
			IsCurrent    string `json:"isCurrent"`
			CurrentRxcui string `json:"currentRxcui"`
			SCDName      string `json:"scdName"`
			SCDRxcui     string `json:"scdRxcui"`
		} `json:"rxcuiConcept"`
		BossConcept []struct {
			BaseRxcui string `json:"baseRxcui"`
			BaseName  string `json:"baseName"`
			BossRxcui string `json:"bossRxcui"`
			BossName  string `json:"bossName"`
		} `json:"bossConcept"`
	} `json:"rxcuiHistoryConcept"`
}

type allRelatedEnvelope struct {
	AllRelatedGroup struct {
		ConceptGroup []struct {
			TTY               string `json:"tty"`
			ConceptProperties []struct {
				Rxcui string `json:"rxcui"`
				Name  string `json:"name"`
				TTY   string `json:"tty"`
			} `json:"conceptProperties"`
		} `json:"conceptGroup"`
	} `json:"allRelatedGroup"`
}

type ndcEnvelope struct {
	HistoricalNdcConcept *struct {
		HistoricalNdcTime []struct {
			NdcTime []struct {
				NDC []string `json:"ndc"`
			} `json:"ndcTime"`
		} `json:"historicalNdcTime"`
	} `json:"historicalNdcConcept"`
}

type classTreeEnvelope struct {
	RxclassTree []classTreeItem `json:"rxclassTree"`
}

type classTreeItem struct {
	MinConcept struct {
		ClassID   string `json:"classId"`
		ClassName string `json:"className"`
		ClassType string `json:"classType"`
	} `json:"rxclassMinConceptItem"`
	Children []classTreeItem `json:"rxclassTree"`
}

type classMembersEnvelope struct {
	DrugMemberGroup struct {
		DrugMember []struct {
			MinConcept struct {
				Rxcui string `json:"rxcui"`
			} `json:"minConcept"`
		} `json:"drugMember"`
	} `json:"drugMemberGroup"`
}
