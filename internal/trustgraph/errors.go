package trustgraph

import "errors"

var (
	// ErrPathNotFound indica que Connects no encontró ruta por aristas válidas.
	ErrPathNotFound = errors.New("trustgraph: path not found")

	// ErrNoEdge indica que no hay arista mutua registrada entre los dos nodos.
	ErrNoEdge = errors.New("trustgraph: no mutual edge")

	// ErrForeignNode indica un nodo de otro Graph.
	ErrForeignNode = errors.New("trustgraph: node belongs to another graph")
)
