// Package loader turns graph documents into graphs and feed documents into
// feed tables, and watches document files for changes.
//
// Nodes of a document may appear in any order. The builder orders them
// with Kahn's algorithm, level by level, after a depth-first search that
// reports the members of any cycle:
//
//	doc, _ := config.LoadGraphFile(ctx, "model.yaml")
//	model, err := loader.NewBuilder(nil, log.Logger).Build(doc)
//	if err != nil {
//	    return err
//	}
//	defer model.Release()
//
//	feeds, err := model.BindFeeds(feedDoc, nil)
//	if err != nil {
//	    return err
//	}
//	defer feeds.Release()
//
//	values, err := engine.Execute(ctx, model.Fetches, feeds.FeedDict, engine.ExecuteOptions{})
package loader
