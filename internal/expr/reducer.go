package expr

// Reducer aggregates pixel values.
type Reducer struct{ Node }

// Mean reducer.
func Mean() Reducer { return Reducer{Invoke("Reducer.mean", nil)} }

// Min reducer.
func Min() Reducer { return Reducer{Invoke("Reducer.min", nil)} }

// Max reducer.
func Max() Reducer { return Reducer{Invoke("Reducer.max", nil)} }

// Combine runs both reducers over shared inputs with no output prefix, so the
// results are keyed <band>_mean, <band>_min, ...
func (r Reducer) Combine(o Reducer) Reducer {
	return Reducer{Invoke("Reducer.combine", map[string]Node{
		"reducer1":     r.Node,
		"reducer2":     o.Node,
		"outputPrefix": Constant(""),
		"sharedInputs": Constant(true),
	})}
}
