// Package layout positions network-map nodes on a canvas using a simple
// spring-force algorithm. The gateway node is attached by an edge to every
// other node; all node pairs repel.
package layout

import (
	"math"
	"math/rand"
)

// Default layout parameters.
const (
	DefaultWidth      = 1200.0
	DefaultHeight     = 800.0
	DefaultIterations = 100

	defaultK          = 50.0
	defaultRepulsion  = 1000.0
	defaultAttraction = 0.01

	damping = 0.9
	cooling = 0.95
	margin  = 50.0
)

// NodeType distinguishes the gateway from regular devices.
type NodeType string

const (
	NodeGateway NodeType = "gateway"
	NodeDevice  NodeType = "device"
)

// Node is one positioned element of the network map. X and Y are nil on
// input when the node has no position yet.
type Node struct {
	IP   string   `json:"ip"`
	Type NodeType `json:"type"`
	X    *float64 `json:"x"`
	Y    *float64 `json:"y"`
}

// Options configures a layout run.
type Options struct {
	Width      float64
	Height     float64
	Iterations int
	K          float64
	Repulsion  float64
	Attraction float64

	// Rand seeds initial positions for nodes that have none. Nil uses the
	// shared global source.
	Rand *rand.Rand
}

// DefaultOptions returns the standard canvas and force parameters.
func DefaultOptions() Options {
	return Options{
		Width:      DefaultWidth,
		Height:     DefaultHeight,
		Iterations: DefaultIterations,
		K:          defaultK,
		Repulsion:  defaultRepulsion,
		Attraction: defaultAttraction,
	}
}

// Apply runs the force-directed algorithm in place and returns the nodes
// with final positions. Positions are clamped to the canvas minus a margin
// on every iteration, and both force strengths cool geometrically so the
// layout settles.
func Apply(nodes []Node, opts Options) []Node {
	if len(nodes) == 0 {
		return nodes
	}

	randFloat := rand.Float64
	if opts.Rand != nil {
		randFloat = opts.Rand.Float64
	}

	xs := make([]float64, len(nodes))
	ys := make([]float64, len(nodes))
	for i, n := range nodes {
		if n.X != nil {
			xs[i] = *n.X
		} else {
			xs[i] = randFloat() * opts.Width
		}
		if n.Y != nil {
			ys[i] = *n.Y
		} else {
			ys[i] = randFloat() * opts.Height
		}
	}

	// Edges attach the gateway to every other node.
	gateway := -1
	for i, n := range nodes {
		if n.Type == NodeGateway {
			gateway = i
			break
		}
	}
	type edge struct{ a, b int }
	var edges []edge
	if gateway >= 0 {
		for i := range nodes {
			if nodes[i].IP != nodes[gateway].IP {
				edges = append(edges, edge{gateway, i})
			}
		}
	}

	repulsion := opts.Repulsion
	attraction := opts.Attraction

	fx := make([]float64, len(nodes))
	fy := make([]float64, len(nodes))

	for iter := 0; iter < opts.Iterations; iter++ {
		for i := range fx {
			fx[i] = 0
			fy[i] = 0
		}

		// All pairs repel with force inversely proportional to the
		// squared distance.
		for i := 0; i < len(nodes); i++ {
			for j := i + 1; j < len(nodes); j++ {
				dx := xs[i] - xs[j]
				dy := ys[i] - ys[j]
				dist := math.Sqrt(dx*dx + dy*dy)
				if dist == 0 {
					dist = 1
				}
				f := repulsion / (dist * dist)
				fx[i] += (dx / dist) * f
				fy[i] += (dy / dist) * f
				fx[j] -= (dx / dist) * f
				fy[j] -= (dy / dist) * f
			}
		}

		// Connected nodes attract toward the optimal distance K.
		for _, e := range edges {
			dx := xs[e.b] - xs[e.a]
			dy := ys[e.b] - ys[e.a]
			dist := math.Sqrt(dx*dx + dy*dy)
			if dist == 0 {
				dist = 1
			}
			f := attraction * (dist - opts.K)
			fx[e.a] += (dx / dist) * f
			fy[e.a] += (dy / dist) * f
			fx[e.b] -= (dx / dist) * f
			fy[e.b] -= (dy / dist) * f
		}

		for i := range nodes {
			xs[i] += fx[i] * damping
			ys[i] += fy[i] * damping
			xs[i] = clamp(xs[i], margin, opts.Width-margin)
			ys[i] = clamp(ys[i], margin, opts.Height-margin)
		}

		repulsion *= cooling
		attraction *= cooling
	}

	for i := range nodes {
		x, y := xs[i], ys[i]
		nodes[i].X = &x
		nodes[i].Y = &y
	}
	return nodes
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
