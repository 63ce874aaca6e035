package compiler

import (
	"time"

	"github.com/google/uuid"

	"github.com/chainforge/fleetci/pkg/models"
)

// DefaultMaxImportDepth bounds pathologically deep (but acyclic) import
// chains; CircularImport already catches cycles, this catches runaway
// depth from an adversarial or buggy import graph.
const DefaultMaxImportDepth = 32

// CompileOptions carries the context a compile needs beyond the document
// text itself.
type CompileOptions struct {
	Tenant      string
	Provenance  models.Provenance
	Trigger     *Trigger
	DocumentURL string // the document's own identity, seeded onto the import stack
	Fetcher     Fetcher
	MaxImportDepth int
}

// Trigger is the caller-supplied trigger filter; CompileOptions.Trigger
// nil means "trigger validation is skipped" (the separate entry point
// described in the document-compiler contract).
type Trigger struct {
	Tag string
	Ref string
}

// Compile parses content and produces a chain record plus its flattened
// fragment list. Trigger filtering is applied when opts.Trigger is set.
func Compile(content string, opts CompileOptions) (*models.Chain, []*models.Fragment, error) {
	doc, err := parseDocument(content)
	if err != nil {
		return nil, nil, err
	}

	var versionNode, triggersNode, chainNode *node
	for _, child := range doc.root.children {
		switch child.kind {
		case "version":
			versionNode = child
		case "triggers":
			triggersNode = child
		case nodeChain:
			chainNode = child
		default:
			return nil, nil, errUnknownNode(string(child.kind), "document root")
		}
	}

	if versionNode == nil || len(versionNode.args) == 0 {
		return nil, nil, errMissingRequired("version", "document root")
	}
	if versionNode.args[0] != SupportedVersion {
		return nil, nil, errUnsupportedVersion(versionNode.args[0])
	}

	if triggersNode == nil || len(triggersNode.args) == 0 {
		return nil, nil, errMissingRequired("triggers", "document root")
	}
	declaredTriggers := triggersNode.args
	for _, tag := range declaredTriggers {
		if _, ok := models.ValidTriggerTags[tag]; !ok {
			return nil, nil, errUnknownTriggerTag(tag)
		}
	}

	if chainNode == nil {
		return nil, nil, errMissingRequired("chain", "document root")
	}
	machine, ok := chainNode.prop("machine")
	if !ok || machine == "" {
		return nil, nil, errNoMachine()
	}

	if opts.Trigger != nil {
		found := false
		for _, t := range declaredTriggers {
			if t == opts.Trigger.Tag {
				found = true
				break
			}
		}
		if !found {
			return nil, nil, errInvalidTrigger(opts.Trigger.Tag, declaredTriggers)
		}
	}

	maxDepth := opts.MaxImportDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxImportDepth
	}

	f := &flattener{
		fetcher:     opts.Fetcher,
		maxDepth:    maxDepth,
		onStack:     map[string]bool{},
		defaultMach: machine,
	}
	if opts.DocumentURL != "" {
		f.onStack[opts.DocumentURL] = true
	}

	fragments, err := f.flattenChildren(chainNode.children, nil, nil)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	chainID := uuid.New().String()
	for _, frag := range fragments {
		frag.ChainID = chainID
	}

	chain := &models.Chain{
		ID:             chainID,
		Tenant:         opts.Tenant,
		Status:         models.ChainActive,
		Attempt:        1,
		Provenance:     opts.Provenance,
		DefaultMachine: machine,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if opts.Trigger != nil {
		chain.Trigger = models.Trigger{Tag: models.TriggerTag(opts.Trigger.Tag), Ref: opts.Trigger.Ref}
	}

	return chain, fragments, nil
}

// flattener carries state shared across one compile's recursive
// flattening: the fetcher, cycle-detection stack, and depth guard. It does
// not know about the chain ID; Compile stamps that on afterward so the
// flattener stays reusable for import sub-documents that have no chain of
// their own.
type flattener struct {
	fetcher     Fetcher
	maxDepth    int
	onStack     map[string]bool
	defaultMach string
}

// flattenChildren flattens one sibling list depth-first, left-to-right.
// parent is the owning fragment's ID (nil for root-level). sourceURL is
// inherited by fragments that are not themselves the root of a fresh
// import. An imported `from` site can splice in more than one top-level
// fragment, so sequence numbers are not assigned while walking nodes;
// once the full sibling list is known, renumberSiblings assigns 0, 1,
// 2... to the direct children of parent, in order, so a multi-fragment
// import never collides with the sequence of a sibling that follows it.
func (f *flattener) flattenChildren(nodes []*node, parent *string, sourceURL *string) ([]*models.Fragment, error) {
	var out []*models.Fragment

	for _, child := range nodes {
		switch child.kind {
		case nodeFragment:
			frags, err := f.flattenFragment(child, parent, sourceURL)
			if err != nil {
				return nil, err
			}
			out = append(out, frags...)

		case nodeParallel:
			if len(child.children) == 0 {
				return nil, errEmptyGroup()
			}
			// Group fragments are never themselves claimed by a worker: they
			// start Active (not Pending) and are excluded from the pending
			// pool; the scheduler promotes a group to Completed/Failed once
			// every child reaches a terminal status.
			group := &models.Fragment{
				ID:         uuid.New().String(),
				Parent:     parent,
				Type:       models.FragmentGroup,
				Machine:    &f.defaultMach,
				IsParallel: true,
				SourceURL:  sourceURL,
				Status:     models.FragmentActive,
				Attempt:    1,
			}
			out = append(out, group)

			groupID := group.ID
			children, err := f.flattenChildren(child.children, &groupID, sourceURL)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)

		default:
			return nil, errUnknownNode(string(child.kind), "chain")
		}
	}

	renumberSiblings(out, parent)
	return out, nil
}

// renumberSiblings assigns contiguous sequence numbers, in list order, to
// the fragments in frags whose Parent matches parent. Fragments spliced
// in from a nested call (an import's children, a group's children) carry
// a different Parent and are left untouched; they were already numbered
// by the flattenChildren call that owns them.
func renumberSiblings(frags []*models.Fragment, parent *string) {
	seq := 0
	for _, frag := range frags {
		if sameParent(frag.Parent, parent) {
			frag.Sequence = seq
			seq++
		}
	}
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// flattenFragment handles a single `fragment` node: either an Inline leaf
// (run) or an import site (from), which is resolved and spliced into the
// current sibling list; its sequence slot is assigned later by
// renumberSiblings once the full list is known.
func (f *flattener) flattenFragment(n *node, parent *string, sourceURL *string) ([]*models.Fragment, error) {
	run, hasRun := n.prop("run")
	from, hasFrom := n.prop("from")

	if hasRun && hasFrom {
		return nil, errMutualExclusion("fragment")
	}
	if !hasRun && !hasFrom {
		return nil, errNoContent("fragment")
	}

	machine := f.defaultMach
	if m, ok := n.prop("machine"); ok && m != "" {
		machine = m
	}

	var condition *string
	if c, ok := n.prop("condition"); ok {
		condition = &c
	}

	if hasRun {
		frag := &models.Fragment{
			ID:         uuid.New().String(),
			Parent:     parent,
			Type:       models.FragmentInline,
			RunScript:  &run,
			Machine:    &machine,
			IsParallel: false,
			Condition:  condition,
			SourceURL:  sourceURL,
			Status:     models.FragmentPending,
			Attempt:    1,
		}
		return []*models.Fragment{frag}, nil
	}

	return f.resolveImport(from, parent)
}

// resolveImport fetches and flattens an imported document, maintaining
// the DFS "currently resolving" stack for cycle detection and the depth
// guard for pathological (acyclic) chains.
func (f *flattener) resolveImport(importURL string, parent *string) ([]*models.Fragment, error) {
	if importURL == "" {
		return nil, errInvalidURL(importURL)
	}
	if f.onStack[importURL] {
		return nil, errCircularImport(importURL)
	}
	if len(f.onStack) >= f.maxDepth {
		return nil, errImportTooDeep(f.maxDepth)
	}

	content, err := f.fetcher.Fetch(importURL)
	if err != nil {
		return nil, errFetchFailed(importURL, err.Error())
	}

	doc, err := parseDocument(content)
	if err != nil {
		return nil, err
	}

	for _, child := range doc.root.children {
		if child.kind != nodeFragment && child.kind != nodeParallel {
			return nil, errInvalidImportNode(string(child.kind), importURL)
		}
	}

	f.onStack[importURL] = true
	url := importURL
	fragments, err := f.flattenChildren(doc.root.children, parent, &url)
	delete(f.onStack, importURL)
	if err != nil {
		return nil, err
	}

	return fragments, nil
}
