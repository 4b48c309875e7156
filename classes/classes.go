package classes

import "fmt"

// TreeDefects are the labels of the tree-health model, indexed by the class
// ids it emits.
var TreeDefects = []string{
	"akar_Patah-mati",
	"batang-akar_patah",
	"batang_pecah",
	"brum akar atau batang",
	"cabang patah mati",
	"daun berubah warna",
	"daun pucuk tunas rusak",
	"gerowong",
	"hilang pucuk dominan",
	"kanker",
	"konk",
	"liana",
	"luka terbuka",
	"percabangan brum berlebihan",
	"resinosis gumosis",
	"sarang rayap",
}

// Table maps model class indices to labels. The zero value is an empty table.
type Table struct {
	labels []string
}

// New copies labels into an immutable table.
func New(labels []string) Table {
	cp := make([]string, len(labels))
	copy(cp, labels)
	return Table{labels: cp}
}

// Default returns the tree-defect table.
func Default() Table {
	return New(TreeDefects)
}

func (t Table) Len() int {
	return len(t.labels)
}

// Label returns the label at index. ok is false when the index is outside the
// table.
func (t Table) Label(index int) (label string, ok bool) {
	if index < 0 || index >= len(t.labels) {
		return "", false
	}
	return t.labels[index], true
}

// Labels returns a copy of the labels in index order.
func (t Table) Labels() []string {
	cp := make([]string, len(t.labels))
	copy(cp, t.labels)
	return cp
}

// Index returns the position of label, or -1.
func (t Table) Index(label string) int {
	for i, l := range t.labels {
		if l == label {
			return i
		}
	}
	return -1
}

func (t Table) String() string {
	return fmt.Sprintf("classes.Table(%d labels)", len(t.labels))
}
