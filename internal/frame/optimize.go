package frame

// optimize rewrites the plan with filter fusion, predicate pushdown and
// projection pushdown. The result computes the same frame as the input plan.
func optimize(plan planNode) (planNode, error) {
	plan, err := pushPredicates(plan, nil)
	if err != nil {
		return nil, err
	}
	return pushProjection(plan, nil)
}

func conjuncts(expr Expr, dst []Expr) []Expr {
	if b, ok := expr.node.(*binaryNode); ok && b.op == opAnd {
		dst = conjuncts(Expr{node: b.left}, dst)
		return conjuncts(Expr{node: b.right}, dst)
	}
	return append(dst, expr)
}

func conjunction(preds []Expr) Expr {
	out := preds[0]
	for _, pred := range preds[1:] {
		out = out.And(pred)
	}
	return out
}

func wrapFilter(plan planNode, preds []Expr) planNode {
	if len(preds) == 0 {
		return plan
	}
	return &filterNode{input: plan, predicate: conjunction(preds)}
}

func refsWithin(expr Expr, names map[string]bool) bool {
	for _, name := range expr.Columns() {
		if !names[name] {
			return false
		}
	}
	return true
}

func pushPredicates(plan planNode, preds []Expr) (planNode, error) {
	switch n := plan.(type) {
	case *filterNode:
		if n.predicate.node.aggregate() {
			// aggregates see the whole input, nothing moves across them
			input, err := pushPredicates(n.input, nil)
			if err != nil {
				return nil, err
			}
			return wrapFilter(n.withChildren([]planNode{input}), preds), nil
		}
		return pushPredicates(n.input, conjuncts(n.predicate, preds))
	case *scanNode:
		if len(preds) == 0 {
			return n, nil
		}
		all := preds
		if n.predicate != nil {
			all = append(conjuncts(*n.predicate, nil), preds...)
		}
		pred := conjunction(all)
		return &scanNode{source: n.source, columns: n.columns, predicate: &pred}, nil
	case *sortNode:
		input, err := pushPredicates(n.input, preds)
		if err != nil {
			return nil, err
		}
		return n.withChildren([]planNode{input}), nil
	case *withColumnsNode:
		defined := make(map[string]bool)
		for _, expr := range n.exprs {
			defined[expr.Name()] = true
		}
		var down, up []Expr
		for _, pred := range preds {
			pushable := !anyAggregate(n.exprs)
			for _, name := range pred.Columns() {
				if defined[name] {
					pushable = false
				}
			}
			if pushable {
				down = append(down, pred)
			} else {
				up = append(up, pred)
			}
		}
		input, err := pushPredicates(n.input, down)
		if err != nil {
			return nil, err
		}
		return wrapFilter(n.withChildren([]planNode{input}), up), nil
	case *selectNode:
		passed := make(map[string]bool)
		for _, expr := range n.exprs {
			if col, ok := expr.node.(*colNode); ok {
				passed[col.name] = true
			}
		}
		var down, up []Expr
		for _, pred := range preds {
			if !anyAggregate(n.exprs) && refsWithin(pred, passed) {
				down = append(down, pred)
			} else {
				up = append(up, pred)
			}
		}
		input, err := pushPredicates(n.input, down)
		if err != nil {
			return nil, err
		}
		return wrapFilter(n.withChildren([]planNode{input}), up), nil
	case *joinNode:
		return pushJoinPredicates(n, n.left, n.right, n.how, preds)
	case *crossJoinNode:
		return pushJoinPredicates(n, n.left, n.right, Inner, preds)
	}
	children := plan.children()
	if len(children) > 0 {
		optimized := make([]planNode, len(children))
		for i, child := range children {
			var err error
			if optimized[i], err = pushPredicates(child, nil); err != nil {
				return nil, err
			}
		}
		plan = plan.withChildren(optimized)
	}
	return wrapFilter(plan, preds), nil
}

// pushJoinPredicates sends predicates over left columns to the left input and,
// for inner joins, predicates over unsuffixed right columns to the right input.
func pushJoinPredicates(join planNode, left, right planNode, how JoinType, preds []Expr) (planNode, error) {
	leftSchema, err := left.schema()
	if err != nil {
		return nil, err
	}
	rightSchema, err := right.schema()
	if err != nil {
		return nil, err
	}
	leftNames := make(map[string]bool)
	for _, field := range leftSchema {
		leftNames[field.Name] = true
	}
	rightNames := make(map[string]bool)
	if how == Inner {
		var keys []string
		if j, ok := join.(*joinNode); ok {
			keys = j.rightOn
		}
		for _, field := range rightSchema {
			if !leftNames[field.Name] && !contains(keys, field.Name) {
				rightNames[field.Name] = true
			}
		}
	}
	var toLeft, toRight, up []Expr
	for _, pred := range preds {
		switch {
		case len(pred.Columns()) > 0 && refsWithin(pred, leftNames):
			toLeft = append(toLeft, pred)
		case len(pred.Columns()) > 0 && refsWithin(pred, rightNames):
			toRight = append(toRight, pred)
		default:
			up = append(up, pred)
		}
	}
	newLeft, err := pushPredicates(left, toLeft)
	if err != nil {
		return nil, err
	}
	newRight, err := pushPredicates(right, toRight)
	if err != nil {
		return nil, err
	}
	return wrapFilter(join.withChildren([]planNode{newLeft, newRight}), up), nil
}

// pushProjection prunes columns nobody reads; required == nil means every
// column of the node's output is needed.
func pushProjection(plan planNode, required map[string]bool) (planNode, error) {
	switch n := plan.(type) {
	case *scanNode:
		if required == nil {
			return n, nil
		}
		schema, err := n.source.Schema()
		if err != nil {
			return nil, err
		}
		columns := []string{}
		for _, field := range schema {
			if required[field.Name] && (n.columns == nil || contains(n.columns, field.Name)) {
				columns = append(columns, field.Name)
			}
		}
		if len(columns) == 0 && len(schema) > 0 {
			// keep one column so the scan still yields the row count
			columns = append(columns, schema[0].Name)
		}
		return &scanNode{source: n.source, columns: columns, predicate: n.predicate}, nil
	case *frameNode:
		return n, nil
	case *filterNode:
		return pushChild(n, n.input, extend(required, n.predicate.Columns()...))
	case *selectNode:
		return pushChild(n, n.input, exprRefs(n.exprs))
	case *withColumnsNode:
		if required == nil {
			return pushChild(n, n.input, nil)
		}
		child := make(map[string]bool)
		for name := range required {
			child[name] = true
		}
		for _, expr := range n.exprs {
			delete(child, expr.Name())
		}
		for name := range exprRefs(n.exprs) {
			child[name] = true
		}
		return pushChild(n, n.input, child)
	case *groupByNode:
		child := exprRefs(n.aggs)
		for _, key := range n.keys {
			child[key] = true
		}
		return pushChild(n, n.input, child)
	case *sortNode:
		var keys []string
		for _, by := range n.by {
			keys = append(keys, by.Column)
		}
		return pushChild(n, n.input, extend(required, keys...))
	case *headNode:
		return pushChild(n, n.input, required)
	case *uniqueNode:
		if len(n.subset) == 0 {
			return pushChild(n, n.input, nil)
		}
		return pushChild(n, n.input, extend(required, n.subset...))
	case *renameNode:
		if required == nil {
			return pushChild(n, n.input, nil)
		}
		inverse := make(map[string]string)
		for from, to := range n.mapping {
			inverse[to] = from
		}
		child := make(map[string]bool)
		for name := range required {
			if from, ok := inverse[name]; ok {
				child[from] = true
			} else if _, renamed := n.mapping[name]; !renamed {
				child[name] = true
			}
		}
		return pushChild(n, n.input, child)
	case *joinNode:
		return pushJoinProjection(n, n.left, n.right, n.leftOn, n.rightOn, n.how, required)
	case *crossJoinNode:
		return pushJoinProjection(n, n.left, n.right, nil, nil, Inner, required)
	}
	return plan, nil
}

func pushChild(plan, input planNode, required map[string]bool) (planNode, error) {
	child, err := pushProjection(input, required)
	if err != nil {
		return nil, err
	}
	return plan.withChildren([]planNode{child}), nil
}

// pushJoinProjection keeps a left column whenever the right column of the
// same name survives, so suffixing stays identical to the unpruned plan.
func pushJoinProjection(join, left, right planNode, leftOn, rightOn []string, how JoinType, required map[string]bool) (planNode, error) {
	if required == nil {
		return pushJoinChildren(join, left, right, nil, nil)
	}
	leftSchema, err := left.schema()
	if err != nil {
		return nil, err
	}
	rightSchema, err := right.schema()
	if err != nil {
		return nil, err
	}
	leftReq := setOf(leftOn...)
	rightReq := setOf(rightOn...)
	for name := range required {
		if leftSchema.Index(name) >= 0 {
			leftReq[name] = true
		}
	}
	if how != Semi && how != Anti {
		for _, field := range rightSchema {
			if contains(rightOn, field.Name) {
				continue
			}
			output := field.Name
			if leftSchema.Index(field.Name) >= 0 {
				output += rightSuffix
			}
			if required[output] {
				rightReq[field.Name] = true
			}
		}
		for name := range rightReq {
			if leftSchema.Index(name) >= 0 && !contains(rightOn, name) {
				leftReq[name] = true
			}
		}
	}
	return pushJoinChildren(join, left, right, leftReq, rightReq)
}

func pushJoinChildren(join, left, right planNode, leftReq, rightReq map[string]bool) (planNode, error) {
	newLeft, err := pushProjection(left, leftReq)
	if err != nil {
		return nil, err
	}
	newRight, err := pushProjection(right, rightReq)
	if err != nil {
		return nil, err
	}
	return join.withChildren([]planNode{newLeft, newRight}), nil
}

// extend adds names to a required set; a nil set stays nil.
func extend(required map[string]bool, names ...string) map[string]bool {
	if required == nil {
		return nil
	}
	out := setOf(names...)
	for name := range required {
		out[name] = true
	}
	return out
}

func setOf(names ...string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, name := range names {
		out[name] = true
	}
	return out
}

func exprRefs(exprs []Expr) map[string]bool {
	out := make(map[string]bool)
	for _, expr := range exprs {
		for _, name := range expr.Columns() {
			out[name] = true
		}
	}
	return out
}
