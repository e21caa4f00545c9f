// Package splitplan turns free-form page input into an ordered split plan.
//
// A call to PlanSplit runs four stages: Tokenize cleans the raw text, a mode
// parser (Smart, Ranges or CutPoints) produces page selections or cut points,
// the validator checks every page reference against the document page count,
// and the compiler emits one SplitJob per output file with a rendered name.
// Problems from every stage are collected and returned together; nothing is
// written or read here.
//
// Input rules:
//
//   - "," and ";" separate groups. Whitespace separates items inside a group.
//   - In Smart mode a group holds one page ("7") or two bounds in any order
//     ("2 4", "4-2"). In Ranges and CutPoints modes every item is its own group.
//   - "8..9" and dash variants such as "8–9" are read as "8-9".
//
// Naming template tokens:
//
//	{idx}    sequence index, starting at 1
//	{start}  first page of the job
//	{end}    last page of the job
//	{pages}  number of pages in the job
//	{total}  page count of the source document
//	{base}   source file name without extension
//	{mode}   "range", or "merge" for a merged output
//
// Numeric tokens take an optional zero-pad width: {idx:02d} or {idx:3}.
// Anything else in braces is left as typed.
package splitplan
