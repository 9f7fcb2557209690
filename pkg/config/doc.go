// Package config loads the symgraph configuration and the documents that
// describe graphs and feeds.
//
// # Overview
//
// Three kinds of files are read here:
//
//   - Config: process settings (plan cache size, default mode, batch
//     parallelism, history database, telemetry), YAML over DefaultConfig.
//   - GraphDocument: the inputs of a graph, its operation nodes in any
//     order and the default fetches. Written in YAML, JSON or CUE.
//   - FeedDocument: the values bound to inputs for one execution, either
//     literal or generated by a Starlark script.
//
// Every document is validated with go-playground/validator struct tags plus
// reference checks. CUE documents are also unified with the built-in #Graph
// schema, and CUE errors keep their file positions.
//
// # Usage Example
//
//	doc, err := config.LoadGraphFile(ctx, "model.cue")
//	if err != nil {
//	    var verrs config.ValidationErrors
//	    if errors.As(err, &verrs) {
//	        for _, e := range verrs {
//	            fmt.Println(e)
//	        }
//	    }
//	    return err
//	}
//
//	feeds, err := config.LoadFeedYAML("feeds.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := config.NewStarlarkEvaluator(cfg.Engine.ScriptTimeout).ExpandFeeds(ctx, feeds); err != nil {
//	    return err
//	}
//
// # Graph documents
//
//	name: mlp
//	inputs:
//	  - {name: x, shape: [-1, 2], dtype: float32}
//	nodes:
//	  - {name: w, op: Variable, attrs: {shape: [2, 2], values: [1, 0, 0, 1]}}
//	  - {name: h, op: MatMul, inputs: [x, w]}
//	  - {name: y, op: Relu, inputs: [h]}
//	fetches: [y]
//
// A multi-output node such as Split is referenced as "name:i".
package config
