package domain

// Relation names an edge set on a kind. Names are scoped by the owning kind:
// "works" is an aggregation on accounts and an association on activities.
type Relation string

// Relation names.
const (
	RelUsers             Relation = "users"
	RelActivityTypes     Relation = "activityTypes"
	RelPublicActivities  Relation = "publicActivities"
	RelPublicTasks       Relation = "publicTasks"
	RelProjects          Relation = "projects"
	RelWorkStreams       Relation = "workStreams"
	RelBeneficiaries     Relation = "beneficiaries"
	RelAccounts          Relation = "accounts"
	RelPrivateActivities Relation = "privateActivities"
	RelPrivateTasks      Relation = "privateTasks"
	RelWorks             Relation = "works"
	RelEvents            Relation = "events"
	RelChildren          Relation = "children"

	RelActivityType           Relation = "activityType"
	RelActivities             Relation = "activities"
	RelWorkloads              Relation = "workloads"
	RelContributingActivities Relation = "contributingActivities"
	RelActivity               Relation = "activity"
	RelQuickPicks             Relation = "quickPicks"
)

// RelationType distinguishes owning from non-owning edges.
type RelationType uint8

// Relation types.
const (
	Aggregation RelationType = iota + 1
	Association
)

func (t RelationType) String() string {
	switch t {
	case Aggregation:
		return "aggregation"
	case Association:
		return "association"
	default:
		return "unknown"
	}
}

// Cardinality bounds the member count of an association set.
type Cardinality uint8

// Cardinalities.
const (
	Many Cardinality = iota
	One
)

// RelationSpec describes one edge set of a kind.
type RelationSpec struct {
	Owner       Kind
	Name        Relation
	Type        RelationType
	Targets     []Kind
	Cardinality Cardinality
	// Inverse names the mirrored set on the target; empty means the
	// association is uni-directional and never back-validated.
	Inverse Relation
}

// Accepts reports whether kind may be a member of the relation.
func (r RelationSpec) Accepts(kind Kind) bool {
	for _, k := range r.Targets {
		if k == kind {
			return true
		}
	}
	return false
}

// Bidirectional reports whether the association is mirrored.
func (r RelationSpec) Bidirectional() bool {
	return r.Type == Association && r.Inverse != ""
}

var (
	activityKinds = []Kind{KindPublicActivity, KindPrivateActivity, KindPublicTask, KindPrivateTask}
	workloadKinds = []Kind{KindProject, KindWorkStream}
)

func aggregation(owner Kind, name Relation, child Kind) RelationSpec {
	return RelationSpec{Owner: owner, Name: name, Type: Aggregation, Targets: []Kind{child}}
}

func association(owner Kind, name Relation, card Cardinality, targets []Kind, inverse Relation) RelationSpec {
	return RelationSpec{Owner: owner, Name: name, Type: Association, Targets: targets, Cardinality: card, Inverse: inverse}
}

func activityRelations(kind Kind) []RelationSpec {
	return []RelationSpec{
		association(kind, RelActivityType, One, []Kind{KindActivityType}, RelActivities),
		association(kind, RelWorkloads, Many, workloadKinds, RelContributingActivities),
		association(kind, RelWorks, Many, []Kind{KindWork}, RelActivity),
		association(kind, RelEvents, Many, []Kind{KindEvent}, RelActivities),
	}
}

func workloadRelations(kind Kind) []RelationSpec {
	return []RelationSpec{
		association(kind, RelContributingActivities, Many, activityKinds, RelWorkloads),
		association(kind, RelBeneficiaries, Many, []Kind{KindBeneficiary}, RelWorkloads),
	}
}

var catalogue = func() map[Kind][]RelationSpec {
	c := map[Kind][]RelationSpec{
		KindRoot: {
			aggregation(KindRoot, RelUsers, KindUser),
			aggregation(KindRoot, RelActivityTypes, KindActivityType),
			aggregation(KindRoot, RelPublicActivities, KindPublicActivity),
			aggregation(KindRoot, RelPublicTasks, KindPublicTask),
			aggregation(KindRoot, RelProjects, KindProject),
			aggregation(KindRoot, RelWorkStreams, KindWorkStream),
			aggregation(KindRoot, RelBeneficiaries, KindBeneficiary),
		},
		KindUser: {
			aggregation(KindUser, RelAccounts, KindAccount),
			aggregation(KindUser, RelPrivateActivities, KindPrivateActivity),
			aggregation(KindUser, RelPrivateTasks, KindPrivateTask),
		},
		KindAccount: {
			aggregation(KindAccount, RelWorks, KindWork),
			aggregation(KindAccount, RelEvents, KindEvent),
			association(KindAccount, RelQuickPicks, Many, activityKinds, ""),
		},
		KindActivityType: {
			association(KindActivityType, RelActivities, Many, activityKinds, RelActivityType),
		},
		KindPublicActivity:  activityRelations(KindPublicActivity),
		KindPrivateActivity: activityRelations(KindPrivateActivity),
		KindPublicTask: append([]RelationSpec{aggregation(KindPublicTask, RelChildren, KindPublicTask)},
			activityRelations(KindPublicTask)...),
		KindPrivateTask: append([]RelationSpec{aggregation(KindPrivateTask, RelChildren, KindPrivateTask)},
			activityRelations(KindPrivateTask)...),
		KindProject: append([]RelationSpec{aggregation(KindProject, RelChildren, KindProject)},
			workloadRelations(KindProject)...),
		KindWorkStream: workloadRelations(KindWorkStream),
		KindBeneficiary: {
			association(KindBeneficiary, RelWorkloads, Many, workloadKinds, RelBeneficiaries),
		},
		KindWork: {
			association(KindWork, RelActivity, One, activityKinds, RelWorks),
		},
		KindEvent: {
			association(KindEvent, RelActivities, Many, activityKinds, RelEvents),
		},
	}
	return c
}()

// RelationsOf returns the relation catalogue of a kind in declaration order.
func RelationsOf(kind Kind) []RelationSpec {
	return append([]RelationSpec(nil), catalogue[kind]...)
}

// LookupRelation finds the spec of rel on kind.
func LookupRelation(kind Kind, rel Relation) (RelationSpec, bool) {
	for _, spec := range catalogue[kind] {
		if spec.Name == rel {
			return spec, true
		}
	}
	return RelationSpec{}, false
}

// OwningRelations lists the aggregations that may own an entity of kind.
func OwningRelations(kind Kind) []RelationSpec {
	var out []RelationSpec
	for _, owner := range append([]Kind{KindRoot}, orderedKinds...) {
		for _, spec := range catalogue[owner] {
			if spec.Type == Aggregation && spec.Accepts(kind) {
				out = append(out, spec)
			}
		}
	}
	return out
}

// RootRelation returns the top-level aggregation holding kind, if any.
func RootRelation(kind Kind) (Relation, bool) {
	for _, spec := range catalogue[KindRoot] {
		if spec.Accepts(kind) {
			return spec.Name, true
		}
	}
	return "", false
}
