// Package pagination fans out paginated route fetches across a bounded
// worker pool. The first page reveals the total page count (X-Pages);
// the remaining pages are fetched concurrently through the request
// engine, which keeps rate limiting and caching in the loop.
package pagination
