// Package portable defines the closed taxonomy of types allowed to cross
// the bridge boundary, the text grammar used for them in build manifests,
// and the structural portability check.
//
// The taxonomy is closed: a value crosses the boundary only if its type
// resolves to one of the kinds below. Anything else (opaque host objects,
// resources, functions) is non-portable and is rejected before any call
// using it can be attempted.
//
//	bool  int  float  string  any
//	option<T>     absent and null both encode as none
//	option2<T>    distinguishes absent from present-but-null
//	tuple<T0, T1, ...>
//	seq<T>
//	map<K, V>     K restricted to int or string
//	set<K>        K restricted to int or string
//	copy<Class>   full value transfer, every field must be portable
//	proxy<Class>  opaque handle to a host-resident object
package portable
