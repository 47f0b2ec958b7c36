// Package query classifies operations into routing categories.
//
// A Classifier holds an ordered list of Rules. The first rule whose pattern
// matches the operation text decides its Type. Text that no rule matches is
// READ_SESSION when it looks like a read and WRITE when it carries a mutating
// verb. Classification is pure: the same text always yields the same Type.
//
//	c := query.NewClassifier()
//	c.Classify("UPDATE products SET price = 10")        // WRITE
//	c.Classify("SELECT COUNT(*) FROM sales_orders")      // READ_ANALYTICAL
//	c.Classify("SELECT * FROM users WHERE id = $1")      // READ_SESSION
//
// Custom rules are evaluated before the built-in table with WithRules.
package query
