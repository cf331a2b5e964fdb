// Package jmux implements a streaming JSON demultiplexer: a character-fed
// parser that binds incoming object keys directly to typed sinks on a
// caller-declared schema struct, rather than building an intermediate parse
// tree. A schema field is either an *AwaitableValue[T], which yields its one
// value once the key closes, or a *StreamableValues[T], which yields each
// array element (or each streamed string character) as it arrives.
//
// A minimal schema looks like:
//
//	type City struct {
//		Name       *jmux.AwaitableValue[string]  `jmux:"city_name"`
//		Population *jmux.AwaitableValue[jmux.Int] `jmux:"population"`
//		Tags       *jmux.StreamableValues[string] `jmux:"tags"`
//	}
//
//	var city City
//	d, err := jmux.New(&city)
//	if err != nil { ... }
//	if err := d.FeedString(`{"city_name":"Linz","population":206000,"tags":["river","ix"]}`); err != nil {
//		...
//	}
//	name, _ := city.Name.Await(context.Background())
//
// Sinks may also reference nested schema structs (a bare pointer to another
// tagged struct), which the Demultiplexer binds recursively via a fresh
// nested Demultiplexer per spec §4.5.
package jmux
