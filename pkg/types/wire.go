package types

// Frame wire layout, most significant bit first, zero padded to a byte:
//
//   sequence        16
//   author          16
//   tile             8    row*16 + col
//   colorCount-1     4
//   fullMask         1
//   deleted          1
//   maskRunLength    1
//   colorRunLength   1
//   timestamp       16    minutes since the time base, 0 = base follows
//   timeBase        32    unix seconds, only when timestamp == 0
//   mask            ...   count + positions | 256 bit map | 16 row run length
//   dictionary      4*n   only when fewer than 4 bits per color
//   colors          ...   raw or run length (4 bit count-1, value)
//
// GET /boards/{id}/frames returns the persisted log, tombstones included:
//   [{ "sequence": number, "data": base64 }]
