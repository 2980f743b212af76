package scanmatch

import (
	"container/heap"
	"math"
)

// searchTolerance is the float tolerance for bound and area comparisons
const searchTolerance = 1e-9

// searchNode is one hypothesis: a fixed rotation and a set of translations,
// together with the best score achievable inside it. For a single-point
// region the bound is the exact score.
type searchNode struct {
	bound    float64
	rotation float64
	region   Rectangle
}

// preferredTo reports whether n must be resolved before o.
//
// A higher bound always comes first, otherwise the search would not be
// sound. Among equal bounds the finer region wins so the search converges
// quicker, and among equal areas the smaller rotation wins because the
// estimator under-penalizes rotation errors.
func (n searchNode) preferredTo(o searchNode) bool {
	if !areEqual(n.bound, o.bound) {
		return n.bound > o.bound
	}
	if na, oa := n.region.Area(), o.region.Area(); !areEqual(na, oa) {
		return na < oa
	}
	return math.Abs(n.rotation) < math.Abs(o.rotation)
}

// resolved reports whether the node stands for a single translation. A
// zero-area segment is not resolved: its bound is not an exact score, so its
// endpoints and center are scored like any other unsplittable region.
func (n searchNode) resolved() bool {
	return areEqual(n.region.HSideLength(), 0) && areEqual(n.region.VSideLength(), 0)
}

// frontier holds the unresolved hypotheses of one match request, most
// preferred on top.
type frontier struct {
	nodes []searchNode
}

var _ heap.Interface = (*frontier)(nil)

func (f *frontier) Len() int           { return len(f.nodes) }
func (f *frontier) Less(i, j int) bool { return f.nodes[i].preferredTo(f.nodes[j]) }
func (f *frontier) Swap(i, j int)      { f.nodes[i], f.nodes[j] = f.nodes[j], f.nodes[i] }

func (f *frontier) Push(x any) {
	f.nodes = append(f.nodes, x.(searchNode))
}

func (f *frontier) Pop() any {
	n := len(f.nodes)
	node := f.nodes[n-1]
	f.nodes = f.nodes[:n-1]
	return node
}

func (f *frontier) push(n searchNode) { heap.Push(f, n) }
func (f *frontier) pop() searchNode   { return heap.Pop(f).(searchNode) }

// reset drops every hypothesis but keeps the buffer
func (f *frontier) reset() { f.nodes = f.nodes[:0] }

// matchRequest bundles the read-only inputs of one match
type matchRequest struct {
	scan []Point
	pose RobotPose
	grid *GridMap
}

// seedFrontier pushes, for every rotation step, one hypothesis covering the
// whole translation window and one exact zero-translation hypothesis. The
// latter guarantees the frontier always holds a resolved candidate.
func (m *BranchAndBoundMatcher) seedFrontier(req matchRequest, f *frontier, stats *SearchStats) {
	entire := NewRectangle(
		-m.bounds.MaxTranslationErrorY, m.bounds.MaxTranslationErrorY,
		-m.bounds.MaxTranslationErrorX, m.bounds.MaxTranslationErrorX,
	)
	noTranslation := PointRectangle(0, 0)
	entireMap := coarseMap(req.grid, entire, m.approximator)

	for _, th := range m.bounds.rotations() {
		rotated := req.pose.Add(PoseDelta{DTheta: th})

		f.push(searchNode{
			bound:    m.estimator.ScanProbabilityBound(req.scan, rotated, entireMap, entire),
			rotation: th,
			region:   entire,
		})
		f.push(searchNode{
			bound:    m.estimator.ScanProbability(req.scan, rotated, req.grid),
			rotation: th,
			region:   noTranslation,
		})

		stats.Rotations++
		stats.Evaluations += 2
	}
}

// findBestPoseDelta refines the top hypothesis until a resolved one
// surfaces. That node scores at least the bound of every other hypothesis
// in the frontier, so no unexplored translation can beat it.
func (m *BranchAndBoundMatcher) findBestPoseDelta(req matchRequest, f *frontier, stats *SearchStats) searchNode {
	step := m.bounds.TranslationStep

	for f.Len() > 0 {
		stats.PeakFrontier = max(stats.PeakFrontier, f.Len())
		node := f.pop()
		if m.onExpand != nil {
			m.onExpand(Expansion{
				Bound:    node.bound,
				Rotation: node.rotation,
				Region:   node.region,
				Resolved: node.resolved(),
			})
		}

		branchHoriz := node.region.HSideLength() > step
		branchVert := node.region.VSideLength() > step

		if !branchHoriz && !branchVert {
			if node.resolved() {
				return node
			}
			// The center alone may miss a better corner, so test all of them.
			m.pushPointHypotheses(req, f, node, stats)
			continue
		}

		var children []Rectangle
		switch {
		case branchHoriz && branchVert:
			children = node.region.SplitQuad()
		case branchHoriz:
			children = node.region.SplitHoriz()
		default:
			children = node.region.SplitVert()
		}

		stats.Expansions++
		rotated := req.pose.Add(PoseDelta{DTheta: node.rotation})
		for _, region := range children {
			bound := m.estimator.ScanProbabilityBound(req.scan, rotated,
				coarseMap(req.grid, region, m.approximator), region)
			stats.Evaluations++

			if bound > node.bound+searchTolerance {
				violate("bound %.9f of %s exceeds parent bound %.9f at rotation %.5f",
					bound, region, node.bound, node.rotation)
			}
			f.push(searchNode{bound: bound, rotation: node.rotation, region: region})
		}
	}

	violate("frontier exhausted before a resolved hypothesis surfaced")
	return searchNode{}
}

// pushPointHypotheses replaces an unsplittable region by exact hypotheses at
// its four corners and its center.
func (m *BranchAndBoundMatcher) pushPointHypotheses(req matchRequest, f *frontier, node searchNode, stats *SearchStats) {
	corners := node.region.Corners()
	offsets := append(corners[:], node.region.Center())

	for _, off := range offsets {
		corr := PoseDelta{DX: off.X, DY: off.Y, DTheta: node.rotation}
		f.push(searchNode{
			bound:    m.estimator.ScanProbability(req.scan, req.pose.Add(corr), req.grid),
			rotation: node.rotation,
			region:   PointRectangle(off.X, off.Y),
		})
		stats.Evaluations++
	}
}
