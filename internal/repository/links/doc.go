// Package links stores the release links of a run for later build steps.
//
// FileRepository merges them into a dotenv file that the next step can source.
// RedisRepository writes them into a Redis hash so other jobs can look the
// latest links up. Both implement Repository; Multi fans out to several.
package links
