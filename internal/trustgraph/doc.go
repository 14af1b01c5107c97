// Package trustgraph implementa la resolución de confianza entre claves:
// la máquina de estados por clave (Status) y el grafo de confianza mutua
// sobre el que se buscan caminos entre dos claves.
//
// Los nodos viven en un Graph (arena) indexados por key ID; las aristas
// mutuas guardan el ID del vecino, nunca un puntero, así el grafo puede
// tener ciclos sin que ningún nodo sea dueño de otro.
//
// Nada en este paquete es seguro para uso concurrente: una sesión de
// resolución muta su Graph desde una sola goroutine.
package trustgraph
