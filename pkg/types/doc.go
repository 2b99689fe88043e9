/*
Package types provides the core data structures and interfaces shared by the tile cache.

A tile is addressed by a TileCoordinate (collection, timestamp, resolution level, column,
row, band). Its stable string form, collection/timestamp/level/col/row/band, is the key
used by every cache tier.

# Core Interfaces

ObjectStore:
Durable storage contract. Only ranged reads and size lookups are required by the read
path. ObjectWriter adds PutObject for the packing tool.

TierCache:
One cache level with get/put/evict and capacity accounting. Values report their size
through Sizer so tiers can account memory without inspecting concrete types.

# Index Records

An IndexRecord is the decoded form of one 16-byte MRF index entry. A record with a zero
length marks a tile that has not been written yet.
*/
package types
